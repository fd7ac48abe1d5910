package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ivdimova/inbox-triage-assistant/model"
	"github.com/ivdimova/inbox-triage-assistant/triage"
)

const dateLayout = "2006-01-02 15:04"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Clusters int    `json:"clusters"`
	Count    int    `json:"count"`
}

type archiveRequest struct {
	ClusterID *int `json:"cluster_id"`
}

type emailView struct {
	UID            string `json:"uid"`
	Subject        string `json:"subject"`
	Sender         string `json:"sender"`
	Date           string `json:"date"`
	Preview        string `json:"preview"`
	HasAttachments bool   `json:"has_attachments"`
}

type clusterView struct {
	ID          int         `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Keywords    []string    `json:"keywords"`
	EmailCount  int         `json:"email_count"`
	Emails      []emailView `json:"emails"`
}

type clustersResponse struct {
	Success     bool          `json:"success"`
	Clusters    []clusterView `json:"clusters"`
	TotalEmails int           `json:"total_emails"`
}

type archiveResponse struct {
	Success       bool   `json:"success"`
	ArchivedCount int    `json:"archived_count"`
	Message       string `json:"message"`
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Server is working!"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	if req.Count <= 0 {
		req.Count = s.messageCount
	}
	if req.Clusters <= 0 {
		req.Clusters = s.clusterCount
	}

	creds := triage.Credentials{Email: req.Email, Password: req.Password}
	clusters, err := s.session.Start(r.Context(), creds, req.Count, req.Clusters)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, model.ErrAuthentication):
			status = http.StatusUnauthorized
		case errors.Is(err, model.ErrFetch):
			status = http.StatusBadGateway
		}
		if s.logger != nil {
			s.logger.Error("login failed", "email", req.Email, "status", status, "err", err)
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, clustersResponse{
		Success:     true,
		Clusters:    clusterViews(clusters),
		TotalEmails: s.session.Total(),
	})
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	if !s.session.Connected() {
		writeError(w, http.StatusBadRequest, "Not connected to a mailbox")
		return
	}
	writeJSON(w, http.StatusOK, clustersResponse{
		Success:     true,
		Clusters:    clusterViews(s.session.Clusters()),
		TotalEmails: s.session.Total(),
	})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ClusterID == nil {
		writeError(w, http.StatusBadRequest, "cluster_id is required")
		return
	}

	res, err := s.session.ArchiveCluster(r.Context(), *req.ClusterID)
	switch {
	case err == nil:
	case errors.Is(err, triage.ErrNotConnected):
		writeError(w, http.StatusBadRequest, "Not connected to a mailbox")
		return
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "Cluster not found")
		return
	case errors.Is(err, model.ErrArchive):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, archiveResponse{
		Success:       true,
		ArchivedCount: res.ArchivedCount,
		Message:       fmt.Sprintf("Archived %d emails from '%s'", res.ArchivedCount, res.ClusterName),
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Disconnect(); err != nil && s.logger != nil {
		s.logger.Warn("disconnect failed", "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func clusterViews(clusters []model.Cluster) []clusterView {
	views := make([]clusterView, 0, len(clusters))
	for _, c := range clusters {
		emails := make([]emailView, 0, len(c.Members))
		for _, m := range c.Members {
			date := "N/A"
			if !m.Date.IsZero() {
				date = m.Date.Format(dateLayout)
			}
			emails = append(emails, emailView{
				UID:            m.ID,
				Subject:        m.Subject,
				Sender:         m.Sender,
				Date:           date,
				Preview:        m.Preview,
				HasAttachments: m.HasAttachment,
			})
		}
		keywords := c.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		views = append(views, clusterView{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Keywords:    keywords,
			EmailCount:  len(c.Members),
			Emails:      emails,
		})
	}
	return views
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-chi/chi/v5"

	"github.com/h1v3-io/logtriage/internal/agent"
	"github.com/h1v3-io/logtriage/internal/history"
	"github.com/h1v3-io/logtriage/internal/logbuf"
	"github.com/h1v3-io/logtriage/internal/logstats"
	"github.com/h1v3-io/logtriage/internal/scheduler"
	"github.com/h1v3-io/logtriage/internal/ticket"
	"github.com/h1v3-io/logtriage/internal/triage"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "triageRunning": s.svc.Running()})
}

// --- Settings ---

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Settings())
}

func (s *Server) handleSetProvider(w http.ResponseWriter, r *http.Request) {
	var req triage.ProviderSettings
	if !decode(w, r, &req) {
		return
	}
	p, err := s.svc.SetProvider(req)
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "settings": p})
}

func (s *Server) handleRuntimeLogs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}
	q := r.URL.Query()
	query := logbuf.Query{
		MinLevel:  slog.LevelDebug,
		Component: q.Get("component"),
		Limit:     200,
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		query.Limit = n
	}
	if lvl := q.Get("level"); lvl != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(lvl)); err == nil {
			query.MinLevel = l
		}
	}
	if since := q.Get("since"); since != "" {
		if t, err := dateparse.ParseAny(since); err == nil {
			query.Since = t
		}
	}
	entries := s.cfg.Logs.Query(query)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSchedules(w http.ResponseWriter, _ *http.Request) {
	jobs := []scheduler.Job{}
	if s.cfg.Schedules != nil {
		jobs = append(jobs, s.cfg.Schedules.Jobs()...)
	}
	writeJSON(w, http.StatusOK, jobs)
}

// --- Log sets ---

func (s *Server) handleListLogSets(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.ListLogSets(r.Context())
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logSets": ids})
}

func (s *Server) handleGetLogSet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := triage.LogQuery{
		Filter: logstats.Filter{
			Services:  splitList(q.Get("service")),
			Keyword:   q.Get("keyword"),
			TimeStart: q.Get("timeStart"),
			TimeEnd:   q.Get("timeEnd"),
		},
		Page:     atoi(q.Get("page")),
		PageSize: atoi(q.Get("pageSize")),
	}
	for _, lvl := range splitList(q.Get("level")) {
		query.Filter.Levels = append(query.Filter.Levels, protocol.Level(strings.ToUpper(lvl)))
	}
	page, err := s.svc.GetLogSet(r.Context(), chi.URLParam(r, "id"), query)
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleLogSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.SummarizeLogSet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// --- Investigations ---

type runTriageResponse struct {
	Success        bool               `json:"success"`
	Result         *agent.Result      `json:"result"`
	TicketsCreated int                `json:"ticketsCreated"`
	Tickets        []*protocol.Ticket `json:"tickets"`
}

func (s *Server) handleRunTriage(w http.ResponseWriter, r *http.Request) {
	var req triage.InvestigateRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.StartInvestigation(r.Context(), req)
	if err != nil {
		s.writeError(w, err, "Triage failed: ")
		return
	}
	if res.Failed() {
		writeMessage(w, http.StatusInternalServerError, "Triage failed: "+res.Failure)
		return
	}
	writeJSON(w, http.StatusOK, runTriageResponse{
		Success:        true,
		Result:         res,
		TicketsCreated: len(res.Tickets),
		Tickets:        res.Tickets,
	})
}

func (s *Server) handleListInvestigations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	runs, err := s.svc.ListInvestigations(history.Filter{
		LogSetID: q.Get("logSetId"),
		Status:   history.RunStatus(q.Get("status")),
		Limit:    atoi(q.Get("limit")),
	})
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.GetInvestigation(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// --- Tickets ---

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ticket.Filter{
		Status:   protocol.TicketStatus(q.Get("status")),
		Severity: protocol.Severity(q.Get("severity")),
		Service:  q.Get("service"),
		Keyword:  q.Get("keyword"),
	}
	var ok bool
	if f.CreatedAfter, ok = parseTime(w, "createdAfter", q.Get("createdAfter")); !ok {
		return
	}
	if f.CreatedBefore, ok = parseTime(w, "createdBefore", q.Get("createdBefore")); !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.ListTickets(f))
}

func (s *Server) handleTicketStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.TicketStats())
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req triage.NewTicket
	if !decode(w, r, &req) {
		return
	}
	t, err := s.svc.CreateTicket(req)
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.GetTicket(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status protocol.TicketStatus `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	t, err := s.svc.UpdateTicketStatus(chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Author string `json:"author"`
		Text   string `json:"text"`
	}
	if !decode(w, r, &req) {
		return
	}
	t, err := s.svc.AddComment(chi.URLParam(r, "id"), req.Author, req.Text)
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCloseTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Comment string `json:"comment"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	t, err := s.svc.CloseTicket(chi.URLParam(r, "id"), req.Comment)
	if err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ticket": t})
}

func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteTicket(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// --- Chat ---

func (s *Server) handleStartChat(w http.ResponseWriter, r *http.Request) {
	var req triage.StartChatRequest
	if !decode(w, r, &req) {
		return
	}
	started, err := s.svc.StartConversation(r.Context(), req)
	if err != nil {
		s.writeError(w, err, "Failed to start chat: ")
		return
	}
	writeJSON(w, http.StatusOK, started)
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if !decode(w, r, &req) {
		return
	}
	reply, err := s.svc.SendMessage(r.Context(), chi.URLParam(r, "sessionID"), req.Message)
	if err != nil {
		s.writeError(w, err, "Message processing failed: ")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	conv, err := s.svc.GetConversation(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err, "Failed to get session: ")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleEndChat(w http.ResponseWriter, r *http.Request) {
	s.svc.EndConversation(chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Session ended"})
}

// --- Query helpers ---

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseTime(w http.ResponseWriter, name, v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, true
	}
	t, err := dateparse.ParseAny(v)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid "+name+": "+v)
		return time.Time{}, false
	}
	return t, true
}

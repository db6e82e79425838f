// Package web exposes the relay to browser clients: a JSON API over HTTP
// and a WebSocket push channel for observers.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rafaelmp2/zaprelay/internal/directory"
	"github.com/rafaelmp2/zaprelay/internal/docstore"
	"github.com/rafaelmp2/zaprelay/internal/gateway"
	"github.com/rafaelmp2/zaprelay/internal/hub"
	"github.com/rafaelmp2/zaprelay/internal/msglog"
	"github.com/rafaelmp2/zaprelay/internal/personalize"
	"github.com/rafaelmp2/zaprelay/internal/session"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// SessionInfo is the read-only slice of the session the API needs.
type SessionInfo interface {
	Connected() bool
	Challenge() string
}

// Sender forwards send requests to the gateway.
type Sender interface {
	Send(ctx context.Context, to string, body string) (msglog.Record, error)
	SendBulk(ctx context.Context, job gateway.BulkJob) (*gateway.BulkResult, error)
}

// Directory reads the current directory snapshot.
type Directory interface {
	Contacts() []directory.Entry
	Groups() []directory.Entry
	Counts() (int, int)
}

// HistorySource reads message history.
type HistorySource interface {
	History(counterpart string, limit int) []msglog.Record
}

// API wires the HTTP handlers to the relay core.
type API struct {
	sess    SessionInfo
	sender  Sender
	dir     Directory
	history HistorySource
	store   *docstore.Store
	hub     *hub.Hub
	logger  *zap.Logger
}

// NewAPI creates the handler set.
func NewAPI(sess SessionInfo, sender Sender, dir Directory, history HistorySource, store *docstore.Store, h *hub.Hub, logger *zap.Logger) *API {
	return &API{
		sess:    sess,
		sender:  sender,
		dir:     dir,
		history: history,
		store:   store,
		hub:     h,
		logger:  logger,
	}
}

// Register mounts all routes on the mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/qr", a.handleQR)
	mux.HandleFunc("GET /api/qr.png", a.handleQRImage)
	mux.HandleFunc("GET /api/contacts", a.handleContacts)
	mux.HandleFunc("GET /api/groups", a.handleGroups)
	mux.HandleFunc("GET /api/messages/{chatID}", a.handleMessages)
	mux.HandleFunc("POST /api/send-message", a.handleSend)
	mux.HandleFunc("POST /api/send-bulk-personalized", a.handleSendBulk)
	mux.HandleFunc("GET /api/personalization/tokens", a.handleTokens)
	mux.HandleFunc("POST /api/personalization/detect-variables", a.handleDetectVariables)
	mux.HandleFunc("GET /api/templates", a.handleListTemplates)
	mux.HandleFunc("POST /api/templates", a.handleCreateTemplate)
	mux.HandleFunc("GET /api/contact-groups", a.handleListContactGroups)
	mux.HandleFunc("POST /api/contact-groups", a.handleCreateContactGroup)
	mux.HandleFunc("GET /ws", a.handleWS)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusResponse struct {
	Connected     bool `json:"connected"`
	HasChallenge  bool `json:"hasChallenge"`
	ContactsCount int  `json:"contactsCount"`
	GroupsCount   int  `json:"groupsCount"`
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	contacts, groups := a.dir.Counts()
	writeJSON(w, http.StatusOK, statusResponse{
		Connected:     a.sess.Connected(),
		HasChallenge:  a.sess.Challenge() != "",
		ContactsCount: contacts,
		GroupsCount:   groups,
	})
}

func (a *API) handleQR(w http.ResponseWriter, _ *http.Request) {
	challenge := a.sess.Challenge()
	if challenge == "" {
		writeError(w, http.StatusNotFound, "challenge not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
}

func (a *API) handleQRImage(w http.ResponseWriter, _ *http.Request) {
	challenge := a.sess.Challenge()
	if challenge == "" {
		writeError(w, http.StatusNotFound, "challenge not available")
		return
	}
	png, err := qrcode.Encode(challenge, qrcode.Medium, 256)
	if err != nil {
		a.logger.Error("failed to render challenge", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render challenge")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (a *API) handleContacts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.dir.Contacts())
}

func (a *API) handleGroups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.dir.Groups())
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatID")
	records := a.history.History(chatID, 50)
	if records == nil {
		records = []msglog.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := a.sender.Send(r.Context(), req.To, req.Message)
	if err != nil {
		a.replySendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageId": rec.ID})
}

type bulkRequest struct {
	Recipients      []personalize.Recipient `json:"recipients"`
	MessageTemplate string                  `json:"messageTemplate"`
	Delay           int                     `json:"delay"`
}

func (a *API) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := a.sender.SendBulk(r.Context(), gateway.BulkJob{
		Recipients: req.Recipients,
		Template:   req.MessageTemplate,
		Delay:      time.Duration(req.Delay) * time.Millisecond,
	})
	if err != nil {
		a.replySendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": res})
}

// replySendError maps gateway errors onto HTTP statuses. Validation and
// not-connected are the caller's problem; busy means try again later.
func (a *API) replySendError(w http.ResponseWriter, err error) {
	var verr *gateway.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, session.ErrNotConnected):
		writeError(w, http.StatusBadRequest, "not connected")
	case errors.Is(err, gateway.ErrBusy):
		writeError(w, http.StatusConflict, "a bulk send is already running")
	default:
		a.logger.Error("send failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to send message")
	}
}

func (a *API) handleTokens(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, personalize.Tokens())
}

func (a *API) handleDetectVariables(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "missing content")
		return
	}
	variables := personalize.Detect(req.Content)
	if variables == nil {
		variables = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"variables": variables})
}

// Template is a stored message template.
type Template struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Content   string   `json:"content"`
	Variables []string `json:"variables"`
	CreatedAt string   `json:"createdAt"`
}

func (a *API) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, loadCollection[Template](a.store, "templates"))
}

func (a *API) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string   `json:"name"`
		Content   string   `json:"content"`
		Variables []string `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}
	variables := req.Variables
	if variables == nil {
		variables = personalize.Detect(req.Content)
	}
	tpl := Template{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Content:   req.Content,
		Variables: variables,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := appendToCollection(a.store, "templates", tpl); err != nil {
		a.logger.Error("failed to store template", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store template")
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// ContactGroup is a stored recipient list for bulk campaigns.
type ContactGroup struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	CreatedAt string   `json:"createdAt"`
}

func (a *API) handleListContactGroups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, loadCollection[ContactGroup](a.store, "contact_groups"))
}

func (a *API) handleCreateContactGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || len(req.Members) == 0 {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}
	group := ContactGroup{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Members:   req.Members,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := appendToCollection(a.store, "contact_groups", group); err != nil {
		a.logger.Error("failed to store contact group", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store contact group")
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func loadCollection[T any](store *docstore.Store, collection string) []T {
	out := []T{}
	if store == nil {
		return out
	}
	for _, doc := range store.Load(collection) {
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func appendToCollection[T any](store *docstore.Store, collection string, v T) error {
	if store == nil {
		return errors.New("document store not configured")
	}
	docs := store.Load(collection)
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Save(collection, append(docs, body))
}

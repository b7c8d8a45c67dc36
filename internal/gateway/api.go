// ABOUTME: HTTP API handlers for chat turns and conversation management
// ABOUTME: Provides POST /api/chat plus conversation list, fetch, rename, and delete

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/evachat/eva-gateway/internal/auth"
	"github.com/evachat/eva-gateway/internal/chat"
	"github.com/evachat/eva-gateway/internal/store"
)

// ConversationSummaryResponse is one row of GET /api/conversations.
type ConversationSummaryResponse struct {
	ChatID       string    `json:"chatId"`
	Title        string    `json:"title"`
	LastActivity time.Time `json:"lastActivity"`
}

// ConversationResponse is the JSON response for GET /api/conversations/{id}.
type ConversationResponse struct {
	ChatID              string          `json:"chatId"`
	Title               string          `json:"title"`
	Messages            []store.Message `json:"messages"`
	NetTokenConsumption int             `json:"netTokenConsumption"`
}

// patchConversationRequest is the JSON body for PATCH /api/conversations/{id}
// when deleting. Renames travel in the title query parameter instead, so a
// rename never needs a request body.
type patchConversationRequest struct {
	Delete bool `json:"delete"`
}

// handleChat handles POST /api/chat. The reply body reports acceptance;
// the generated content streams over the user's hub connections.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = userID

	result := g.chat.Handle(r.Context(), &req)
	g.writeJSON(w, http.StatusOK, result)
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	summaries, err := g.store.ListVisibleConversations(r.Context(), userID)
	if err != nil {
		g.logger.Error("listing conversations failed", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	response := make([]ConversationSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		response = append(response, ConversationSummaryResponse{
			ChatID:       s.ChatID,
			Title:        s.Title,
			LastActivity: s.LastActivity,
		})
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleConversation dispatches GET and PATCH on /api/conversations/{id}.
func (g *Gateway) handleConversation(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	if chatID == "" || strings.Contains(chatID, "/") {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	switch r.Method {
	case http.MethodGet:
		g.getConversation(w, r, userID, chatID)
	case http.MethodPatch:
		g.patchConversation(w, r, userID, chatID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// getConversation returns the visible transcript for the caller's chat.
func (g *Gateway) getConversation(w http.ResponseWriter, r *http.Request, userID, chatID string) {
	conv, err := g.store.GetVisibleConversation(r.Context(), userID, chatID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("fetching conversation failed",
			"user_id", userID,
			"chat_id", chatID,
			"error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to fetch conversation")
		return
	}

	g.writeJSON(w, http.StatusOK, ConversationResponse{
		ChatID:              conv.ChatID,
		Title:               conv.Title,
		Messages:            conv.Messages,
		NetTokenConsumption: conv.NetTokenConsumption,
	})
}

// patchConversation renames or soft-deletes a conversation. A title query
// parameter renames; a {"delete": true} body deletes. Requests carrying
// neither are rejected.
func (g *Gateway) patchConversation(w http.ResponseWriter, r *http.Request, userID, chatID string) {
	if title := r.URL.Query().Get("title"); title != "" {
		renamed, err := g.store.RenameConversation(r.Context(), userID, chatID, title)
		if err != nil {
			g.logger.Error("renaming conversation failed",
				"user_id", userID,
				"chat_id", chatID,
				"error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "failed to rename conversation")
			return
		}
		if !renamed {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var req patchConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Delete {
		g.sendJSONError(w, http.StatusBadRequest, "nothing to update: provide a title or a delete flag")
		return
	}

	deleted, err := g.store.SoftDeleteConversation(r.Context(), userID, chatID)
	if err != nil {
		g.logger.Error("deleting conversation failed",
			"user_id", userID,
			"chat_id", chatID,
			"error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	if !deleted {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

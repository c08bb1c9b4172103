package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Push payloads. The client treats each as an opaque UI delta keyed by Type.

type CountdownMessage struct {
	Type    string `json:"type"` // "countdown"
	Seconds int    `json:"seconds"`
}

type MaskedWordMessage struct {
	Type string `json:"type"` // "masked_word"
	Word string `json:"word"`
}

type HintsMessage struct {
	Type  string   `json:"type"` // "hints"
	Hints []string `json:"hints"`
}

// RoundMessage announces a fresh round: word length in word mode, question
// and options in trivia mode. The answer never leaves the server.
type RoundMessage struct {
	Type     string   `json:"type"` // "round"
	Mode     string   `json:"mode"`
	Length   int      `json:"length"`
	Question string   `json:"question,omitempty"`
	Options  []string `json:"options,omitempty"`
}

type TranscriptEntry struct {
	Player  string `json:"player"`
	Text    string `json:"text"`
	Correct bool   `json:"correct,omitempty"`
}

// TranscriptMessage carries the guess log, newest first.
type TranscriptMessage struct {
	Type    string            `json:"type"` // "transcript"
	Entries []TranscriptEntry `json:"entries"`
}

type LeaderboardRow struct {
	Rank   int    `json:"rank"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

type LeaderboardMessage struct {
	Type string           `json:"type"` // "leaderboard"
	Rows []LeaderboardRow `json:"rows"`
}

// ScoreMessage updates one player's personal score badge.
type ScoreMessage struct {
	Type   string `json:"type"` // "score"
	Name   string `json:"name"`
	Points int    `json:"points"`
}

type ToastMessage struct {
	Type    string `json:"type"` // "toast"
	Level   string `json:"level"`
	Message string `json:"message"`
}

func transcriptMessage(entries []TranscriptEntry) TranscriptMessage {
	reversed := make([]TranscriptEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		reversed = append(reversed, entries[i])
	}
	return TranscriptMessage{Type: "transcript", Entries: reversed}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const sessionCookieName = "guessbox_session"

// identityFromRequest reads the signed-in identity from the session cookie,
// or returns the unassigned key for anonymous visitors.
func identityFromRequest(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return unassignedKey
}

func (c *Client) readPump(engine *Engine) {
	defer func() {
		engine.Disconnect(c)
		_ = c.conn.Close()
	}()

	// Clients push nothing over the socket; game input arrives over HTTP.
	// Reading still drives connection liveness.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func serveWS(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: Websocket upgrade: %v", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			identity: identityFromRequest(r),
		}

		engine.Connect(client)

		go client.writePump()
		client.readPump(engine)
	}
}

// writeNotice sends a human-readable rejection or confirmation to the
// submitting session only.
func writeNotice(w http.ResponseWriter, status int, level, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ToastMessage{Type: "toast", Level: level, Message: message})
}

func guessStatus(err error) int {
	switch {
	case errors.Is(err, ErrSignInRequired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrEmptyGuess),
		errors.Is(err, ErrMultiWordGuess),
		errors.Is(err, ErrGuessTooLong),
		errors.Is(err, ErrAlreadyAnswered),
		errors.Is(err, ErrNoActiveRound),
		errors.Is(err, ErrNoLettersLeft),
		errors.Is(err, ErrNotWordMode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func serveGuess(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		identity := identityFromRequest(r)

		result, err := engine.SubmitGuess(identity, r.FormValue("guess"))
		if err != nil {
			status := guessStatus(err)
			if status == http.StatusInternalServerError {
				logf(cfg, "ERROR: Guess from %s: %v", identity, err)
				writeNotice(w, status, "error", "Something went wrong. Please try again.")
				return
			}
			writeNotice(w, status, "error", err.Error())
			return
		}

		switch {
		case result.Correct:
			writeNotice(w, http.StatusOK, "success", "Correct! +"+strconv.Itoa(result.Points)+" points")
		case result.Close:
			writeNotice(w, http.StatusOK, "info", "You're close!")
		default:
			writeNotice(w, http.StatusOK, "none", "")
		}
	}
}

func serveBuy(cfg *Config, engine *Engine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		identity := identityFromRequest(r)

		if _, err := engine.BuyLetter(identity); err != nil {
			status := guessStatus(err)
			if status == http.StatusInternalServerError {
				logf(cfg, "ERROR: Letter purchase from %s: %v", identity, err)
				writeNotice(w, status, "error", "Something went wrong. Please try again.")
				return
			}
			writeNotice(w, status, "error", err.Error())
			return
		}

		writeNotice(w, http.StatusOK, "none", "")
	}
}

func serveTopicSubmit(cfg *Config, engine *Engine, store *Store, queue *TopicQueue) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		identity := identityFromRequest(r)
		if identity == unassignedKey {
			writeNotice(w, http.StatusUnauthorized, "error", ErrSignInRequired.Error())
			return
		}

		subject := strings.TrimSpace(r.FormValue("subject"))
		bid := 0
		if raw := r.FormValue("points"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeNotice(w, http.StatusBadRequest, "error", "Bid must be a non-negative number.")
				return
			}
			bid = parsed
		}

		player, err := store.EnsurePlayer(identity, startingPoints)
		if err != nil {
			logf(cfg, "ERROR: Topic submit from %s: %v", identity, err)
			writeNotice(w, http.StatusInternalServerError, "error", "Something went wrong. Please try again.")
			return
		}
		if player.Points < bid {
			writeNotice(w, http.StatusBadRequest, "error", "Not enough points for that bid.")
			return
		}

		if _, err := queue.Submit(subject, bid, false); err != nil {
			writeNotice(w, http.StatusBadRequest, "error", err.Error())
			return
		}

		if bid > 0 {
			total, err := store.AddPoints(identity, -bid)
			if err != nil {
				logf(cfg, "ERROR: Deducting bid from %s: %v", identity, err)
			} else {
				engine.reg.Unicast(identity, ScoreMessage{Type: "score", Name: identity, Points: total})
			}
		}

		writeNotice(w, http.StatusOK, "success", "Topic queued.")
	}
}

func serveAuthCallback(cfg *Config, store *Store, idc IdentityClient) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		code := r.URL.Query().Get("code")
		if code == "" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(newPage("Sign-in failed", "Authentication failed. Click to return.")))
			return
		}

		username, sub, err := idc.Resolve(r.Context(), code)
		if err != nil {
			logf(cfg, "ERROR: Identity exchange: %v", err)
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(newPage("Sign-in failed", "Authentication failed. Click to return.")))
			return
		}

		identity := identityKey(username, sub)
		if _, err := store.EnsurePlayer(identity, startingPoints); err != nil {
			logf(cfg, "ERROR: Creating player %s: %v", identity, err)
		}

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    identity,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		logf(cfg, "SERVE: Client signed in as %s", identity)

		http.Redirect(w, r, cfg.prefix+"/", http.StatusSeeOther)
	}
}

// qrHandler generates a PNG QR code for the game URL so players can share
// the session with their phones.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	path := strings.TrimSuffix(r.URL.Path, "/qr")
	if path == "" {
		path = "/"
	}

	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerGuessGame wires the game surface:
//   - /            → embedded HTML client
//   - /ws          → websocket push channel
//   - /guess       → guess submission
//   - /buy         → letter purchase (word mode)
//   - /topics      → topic submission with bid (trivia mode)
//   - /qr          → PNG QR code for the game URL
//   - /auth/callback → identity exchange, sets the session cookie
func registerGuessGame(cfg *Config, mux *httprouter.Router, engine *Engine, store *Store, queue *TopicQueue, idc IdentityClient, errs chan<- error) {
	mux.GET(cfg.prefix+"/", serveHomePage(cfg, errs))

	mux.GET(cfg.prefix+"/assets/app.css", serveAssets(cfg, errs))
	mux.GET(cfg.prefix+"/assets/app.js", serveAssets(cfg, errs))
	mux.GET(cfg.prefix+"/favicon.svg", serveFavicon(cfg, errs))

	mux.GET(cfg.prefix+"/ws", serveWS(cfg, engine))
	mux.POST(cfg.prefix+"/guess", serveGuess(cfg, engine))
	mux.GET(cfg.prefix+"/qr", qrHandler)
	mux.GET(cfg.prefix+"/auth/callback", serveAuthCallback(cfg, store, idc))

	mux.GET(cfg.prefix+"/how-to-play", serveStaticPage(cfg, "Guessbox", howToPlayText))
	mux.GET(cfg.prefix+"/faq", serveStaticPage(cfg, "Guessbox", faqText))

	if cfg.mode == modeWord {
		mux.POST(cfg.prefix+"/buy", serveBuy(cfg, engine))
	}

	if cfg.mode == modeTrivia {
		mux.POST(cfg.prefix+"/topics", serveTopicSubmit(cfg, engine, store, queue))
	}
}

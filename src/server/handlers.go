package server

import (
	"errors"
	"fmt"
	"io"
	"time"

	"cashout-mirror/src/helpers"
	"cashout-mirror/src/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Snapshot Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) getStats(c *gin.Context) {
	c.JSON(200, s.Cache.Stats())
}

// -----------------------------------------------------------------------------

func (s *APIServer) getVelas(c *gin.Context) {
	c.JSON(200, gin.H{
		"ok":      true,
		"valores": s.Cache.Velas(),
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getOnline(c *gin.Context) {
	c.JSON(200, gin.H{
		"ok":     true,
		"online": s.Cache.OnlineOrFallback(),
	})
}

// -----------------------------------------------------------------------------

// getLastResult serves both /api/ultimo-historico and /api/ultimo-resultado;
// the upstream emits identical payloads on both.
func (s *APIServer) getLastResult(c *gin.Context) {
	if r := s.Cache.LastResult(); r != nil {
		c.JSON(200, gin.H{"ok": true, "data": r})
		return
	}
	c.JSON(200, gin.H{"ok": false})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	var lastUpdate interface{}
	if r := s.Cache.LastResult(); r != nil {
		lastUpdate = r.Ts
	}
	c.JSON(200, gin.H{
		"ok":              true,
		"uptime":          time.Since(s.startedAt).Seconds(),
		"clients":         s.Hub.ClientCount(),
		"mirrorConnected": s.Mirror != nil && s.Mirror.Connected(),
		"tokenActive":     s.Tokens != nil && s.Tokens.Active(),
		"stats":           s.Cache.Stats(),
		"velasCount":      s.Cache.VelasCount(),
		"lastUpdate":      lastUpdate,
	})
}

// -----------------------------------------------------------------------------
// SSE Stream
// -----------------------------------------------------------------------------

// handleStream attaches one downstream SSE consumer to the hub. Frames
// mirror the upstream envelope byte for byte.
func (s *APIServer) handleStream(c *gin.Context) {
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Reconnect hint for EventSource clients
	fmt.Fprint(w, "retry: 3000\n\n")
	w.Flush()

	client := newClient(s.Hub, nil)
	s.Hub.register <- client
	defer func() { s.Hub.unregister <- client }()

	keepalive := time.NewTicker(keepalivePeriod)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case frame, ok := <-client.send:
			if !ok {
				// Pruned by the hub
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", frame)
			w.Flush()

		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			w.Flush()
		}
	}
}

// -----------------------------------------------------------------------------
// Injection Handlers
// -----------------------------------------------------------------------------

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// -----------------------------------------------------------------------------

// validationError builds the 422 body in the upstream's detail format.
func validationError(msg string) gin.H {
	return gin.H{
		"detail": []gin.H{{
			"loc":  []string{"body"},
			"msg":  msg,
			"type": "value_error",
		}},
	}
}

// -----------------------------------------------------------------------------

type sinalRequest struct {
	Tipo      string   `json:"tipo"`
	AposDe    *float64 `json:"apos_de"`
	Cashout   *float64 `json:"cashout"`
	MaxGales  *int     `json:"max_gales"`
	VelaAtual *float64 `json:"vela_atual"`
	Meta      *string  `json:"meta"`
	ID        string   `json:"id"`
	Ts        string   `json:"ts"`
}

func (s *APIServer) postSinal(c *gin.Context) {
	var req sinalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(422, validationError("corpo inválido"))
		return
	}
	if req.AposDe == nil || req.Cashout == nil {
		c.JSON(422, validationError("apos_de e cashout são obrigatórios"))
		return
	}

	sig := models.MSignal{
		Tipo:      req.Tipo,
		AposDe:    *req.AposDe,
		Cashout:   *req.Cashout,
		MaxGales:  2,
		VelaAtual: req.VelaAtual,
		Meta:      req.Meta,
		ID:        req.ID,
		Ts:        req.Ts,
	}
	if sig.Tipo == "" {
		sig.Tipo = models.SignalConfirmed
	}
	if req.MaxGales != nil {
		sig.MaxGales = *req.MaxGales
	}
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.Ts == "" {
		sig.Ts = time.Now().UTC().Format(time.RFC3339)
	}

	s.Logger.Info("Injected sinal: %s | after %.2fx -> cashout %.2fx", sig.Tipo, sig.AposDe, sig.Cashout)
	s.Hub.Publish("sinal", sig)
	if sig.Tipo == models.SignalConfirmed && s.Config.Push.Enabled {
		s.Push.NotifySignal(sig)
	}

	c.JSON(200, gin.H{"ok": true, "sinal": sig})
}

// -----------------------------------------------------------------------------

type resultadoRequest struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	VelaFinal *float64 `json:"vela_final"`
	AposDe    *float64 `json:"apos_de"`
	Cashout   *float64 `json:"cashout"`
	Ts        string   `json:"ts"`
}

func (s *APIServer) postResultado(c *gin.Context) {
	var req resultadoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(422, validationError("corpo inválido"))
		return
	}
	if req.ID == "" || req.Status == "" {
		c.JSON(422, validationError("id e status são obrigatórios"))
		return
	}

	res := models.MResult{
		ID:        req.ID,
		Status:    req.Status,
		VelaFinal: req.VelaFinal,
		AposDe:    req.AposDe,
		Cashout:   req.Cashout,
		Ts:        req.Ts,
	}
	if res.Ts == "" {
		res.Ts = time.Now().UTC().Format(time.RFC3339)
	}

	s.Cache.SetLastResult(res)
	s.Cache.RecordResult(res.Status)
	s.Logger.Info("Injected resultado: %s | vela %.2f", res.Status, floatOrZero(res.VelaFinal))

	s.Hub.Publish("resultado", res)
	if s.Config.Push.Enabled {
		s.Push.NotifyResult(res)
	}
	if s.OnInjectResult != nil {
		// The local increment is optimistic; the upstream resync shortly
		// after is authoritative.
		s.OnInjectResult()
	}

	c.JSON(200, gin.H{"ok": true, "resultado": res})
}

// -----------------------------------------------------------------------------

func (s *APIServer) postVelas(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(422, validationError("corpo inválido"))
		return
	}

	// An empty or unrecognized payload is not an error: the cache stays as
	// is and the current count is reported back.
	if vals := models.ExtractVelaValues(body); len(vals) > 0 {
		normalized := s.Cache.SetVelas(vals)
		s.Hub.Publish("vela", gin.H{"valores": normalized})
	}

	c.JSON(200, gin.H{"ok": true, "count": s.Cache.VelasCount()})
}

// -----------------------------------------------------------------------------
// Push Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) postSubscribe(c *gin.Context) {
	var sub models.MPushSubscription
	if err := c.ShouldBindJSON(&sub); err != nil || sub.Endpoint == "" {
		c.JSON(400, gin.H{"error": "endpoint é obrigatório"})
		return
	}

	added := s.Push.Add(sub)
	c.JSON(201, gin.H{"ok": true, "added": added, "total": s.Push.Count()})
}

// -----------------------------------------------------------------------------

func (s *APIServer) postSubsReset(c *gin.Context) {
	removed := s.Push.ResetAll()
	c.JSON(200, gin.H{"ok": true, "removed": removed})
}

// -----------------------------------------------------------------------------

func (s *APIServer) postPushBroadcast(c *gin.Context) {
	if !s.Config.Push.Enabled {
		c.JSON(503, gin.H{"error": "push desabilitado"})
		return
	}

	var req models.MBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(422, validationError("corpo inválido"))
		return
	}
	if req.Title == "" || req.Body == "" {
		c.JSON(422, validationError("title e body são obrigatórios"))
		return
	}

	payload := models.MPushPayload{
		Title:              req.Title,
		Body:               req.Body,
		Icon:               "/images/icon-192.png",
		Badge:              "/favicon.ico",
		Tag:                req.Tag,
		Renotify:           true,
		RequireInteraction: req.RequireInteraction,
		Silent:             req.Silent,
		Data:               map[string]interface{}{"url": "/"},
	}
	if payload.Tag == "" {
		payload.Tag = "broadcast"
	}
	if req.URL != "" {
		payload.Data["url"] = req.URL
	}
	if req.Renotify != nil {
		payload.Renotify = *req.Renotify
	}

	opts := models.MDispatchOptions{
		Target:       req.Target,
		Limit:        req.Limit,
		Query:        req.Query,
		Priority:     req.Priority,
		DelaySeconds: req.DelaySeconds,
		DryRun:       req.DryRun,
		Mode:         req.Mode,
	}
	if opts.Mode == "" {
		opts.Mode = models.ModeQueue
	}

	result, err := s.Push.Dispatch(payload, opts)
	if err != nil {
		var verr *helpers.ValidationError
		if errors.As(err, &verr) {
			c.JSON(422, validationError(verr.Message))
			return
		}
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, struct {
		OK bool `json:"ok"`
		models.MDispatchResult
	}{OK: true, MDispatchResult: result})
}

// -----------------------------------------------------------------------------

func (s *APIServer) postNotificationClick(c *gin.Context) {
	var data map[string]interface{}
	c.ShouldBindJSON(&data) // an empty body is still a click

	click := models.MNotificationClick{
		Ts:   time.Now().UTC().Format(time.RFC3339),
		Data: data,
	}

	s.Cache.RecordClick(click)
	s.Push.RecordClick()
	if s.Store != nil {
		if err := s.Store.SaveClick(click); err != nil {
			s.Logger.Warning("Failed to persist click: %v", err)
		}
	}

	c.JSON(200, gin.H{"ok": true})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getPushStats(c *gin.Context) {
	c.JSON(200, gin.H{
		"subscriptions": s.Push.Count(),
		"clicks":        s.Push.Clicks(),
		"campaigns":     s.Push.Campaigns(),
	})
}

// -----------------------------------------------------------------------------

// postTestPushResult fires a simulated green-result notification to all
// subscribers, for end-to-end delivery checks from the field.
func (s *APIServer) postTestPushResult(c *gin.Context) {
	if !s.Config.Push.Enabled {
		c.JSON(503, gin.H{"error": "push desabilitado"})
		return
	}

	vela := 2.5
	cashout := 2.0
	s.Push.NotifyResult(models.MResult{
		ID:        uuid.New().String(),
		Status:    models.ResultGreen,
		VelaFinal: &vela,
		Cashout:   &cashout,
		Ts:        time.Now().UTC().Format(time.RFC3339),
	})

	c.JSON(200, gin.H{"ok": true, "targets": s.Push.Count()})
}

package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dgc-backbone/dgc/internal/apperrors"
	"github.com/dgc-backbone/dgc/internal/canon"
	"github.com/dgc-backbone/dgc/internal/pkg/metrics"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// IdempotencyStore is implemented by the marketplace's SQLite-backed store.
// Lookup returns (requestHash, status, body, true) on a hit. Save persists a fresh
// success outside of a domain transaction; a caller whose write must land
// atomically with its idempotency record uses the store's own
// transactional commit method instead.
type IdempotencyStore interface {
	Lookup(action, key string) (requestHash string, status int, body []byte, found bool)
	Save(action, key, requestHash string, status int, body []byte) error
}

type idempotencyContextKey string

const (
	ctxIdempotencyKey  idempotencyContextKey = "idempotencyKey"
	ctxIdempotencyHash idempotencyContextKey = "idempotencyRequestHash"
)

// IdempotencyKey returns the Idempotency-Key header value and canonical
// request hash computed by the Idempotency middleware, for handlers that
// persist their own idempotency record alongside their domain write.
func IdempotencyKey(c *gin.Context) (key, requestHash string, ok bool) {
	k, kok := c.Get(string(ctxIdempotencyKey))
	h, hok := c.Get(string(ctxIdempotencyHash))
	if !kok || !hok {
		return "", "", false
	}
	return k.(string), h.(string), true
}

// responseCapture buffers the handler's JSON response so it can be
// persisted verbatim for byte-for-byte replay, per §8's idempotency
// invariant.
type responseCapture struct {
	gin.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (w *responseCapture) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseCapture) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Idempotency requires the Idempotency-Key header, computes the canonical
// request hash, and either replays a stored response, rejects a body
// mismatch with idempotency_key_reuse_conflict, or lets the request proceed
// with the key and hash available through IdempotencyKey. It stores no
// record itself; the handler saves one with its own domain write (§4.H).
func Idempotency(action string, store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Error(apperrors.New(apperrors.CodeMissingIdempotencyKey, "idempotency-key header is required", nil))
			c.Abort()
			return
		}

		raw, _ := io.ReadAll(c.Request.Body)
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		var parsed interface{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &parsed); err != nil {
				c.Error(apperrors.New(apperrors.CodeInvalidRequest, "request body is not valid JSON", err))
				c.Abort()
				return
			}
		}
		requestHash, err := canon.HashJSON(parsed)
		if err != nil {
			c.Error(apperrors.New(apperrors.CodeInvalidRequest, "failed to hash request body", err))
			c.Abort()
			return
		}

		if prevHash, status, body, found := store.Lookup(action, key); found {
			if prevHash != requestHash {
				metrics.IdempotencyReplays.WithLabelValues(action, "conflict").Inc()
				c.Error(apperrors.New(apperrors.CodeIdempotencyKeyReuseConflict, "idempotency key reused with a different request body", nil))
				c.Abort()
				return
			}
			metrics.IdempotencyReplays.WithLabelValues(action, "replay").Inc()
			c.Data(status, "application/json; charset=utf-8", body)
			c.Abort()
			return
		}

		c.Set(string(ctxIdempotencyKey), key)
		c.Set(string(ctxIdempotencyHash), requestHash)

		capture := &responseCapture{ResponseWriter: c.Writer, status: http.StatusOK}
		c.Writer = capture

		c.Next()

		if capture.status == 0 {
			capture.status = http.StatusOK
		}
		// Persistence happens in the handler's own domain write, atomically
		// with the mutation it guards; this only reports the outcome.
		if capture.status < 300 && len(c.Errors) == 0 {
			metrics.IdempotencyReplays.WithLabelValues(action, "fresh").Inc()
		}
	}
}

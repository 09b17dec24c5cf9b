package gateway

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"modelgate/internal/domain"
)

const wsWriteTimeout = 10 * time.Second

// streamWSHandler serves one streamed generation per WebSocket connection.
func streamWSHandler(deps HandlerDeps, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{
				"localhost",
				"localhost:*",
				"127.0.0.1",
				"127.0.0.1:*",
				"[::1]",
				"[::1]:*",
			},
		})
		if err != nil {
			deps.Logger.Warn("websocket accept failed", "error", err)
			return
		}
		defer ws.CloseNow()

		ctx := r.Context()
		var frame Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			deps.Logger.Debug("websocket read failed", "error", err)
			return
		}
		if frame.Type != FrameTypeRequest || frame.Request == nil {
			writeFrame(ctx, ws, Frame{Type: FrameTypeError, Error: "expected a request frame", Code: domain.CodeInvalidInput})
			ws.Close(websocket.StatusPolicyViolation, "expected a request frame")
			return
		}
		metrics.StreamTotal.Add(1)

		// Reads are done; CloseRead cancels ctx if the client goes away.
		ctx = ws.CloseRead(ctx)

		res, err := deps.Dispatcher.Stream(ctx, *frame.Request, func(c domain.Chunk) error {
			return writeFrame(ctx, ws, Frame{Type: FrameTypeChunk, Chunk: &c})
		})
		if err != nil {
			metrics.observeError(err)
			writeFrame(ctx, ws, Frame{Type: FrameTypeError, Error: err.Error(), Code: domain.ErrorCodeOf(err), Result: res})
			ws.Close(websocket.StatusNormalClosure, "")
			return
		}
		metrics.observeResult(res)
		writeFrame(ctx, ws, Frame{Type: FrameTypeDone, Result: res})
		ws.Close(websocket.StatusNormalClosure, "")
	}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, f)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"realtime-auction/internal/broadcast"
	model "realtime-auction/internal/models"
	"realtime-auction/services/bidding/helpers"
	"realtime-auction/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const defaultReadLimit = 4096

// SocketConfig tunes the per-connection reader and writer
type SocketConfig struct {
	PingInterval time.Duration // 0 disables keepalive pings and read deadlines
	WriteTimeout time.Duration
	ReadLimit    int64
}

// SocketHandler serves the real-time channel at /ws
type SocketHandler struct {
	bids     *BiddingHandler
	service  BiddingServiceInterface
	hub      *broadcast.Hub
	upgrader websocket.Upgrader
	cfg      SocketConfig
}

func NewSocketHandler(bids *BiddingHandler, hub *broadcast.Hub, cfg SocketConfig) *SocketHandler {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	return &SocketHandler{
		bids:    bids,
		service: bids.service,
		hub:     hub,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and runs the connection until either side goes away
func (h *SocketHandler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		utils.Warn("ServeWS: upgrade failed", map[string]any{"error": err.Error(), "remote": c.ClientIP()})
		return
	}

	sub := h.hub.Register(utils.NewConnectionID())
	defer h.hub.Disconnect(sub)
	defer conn.Close()

	utils.Info("ServeWS: connection opened", map[string]any{"conn_id": sub.ID, "remote": c.ClientIP()})

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, sub)
	}()

	h.readLoop(ctx, conn, sub)
	cancel()
	<-writerDone

	utils.Info("ServeWS: connection closed", map[string]any{"conn_id": sub.ID, "lagging": sub.IsLagging()})
}

func (h *SocketHandler) pongWait() time.Duration {
	return 2 * h.cfg.PingInterval
}

func (h *SocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, sub *broadcast.Subscriber) {
	conn.SetReadLimit(h.cfg.ReadLimit)
	if h.cfg.PingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait()))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(h.pongWait()))
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				utils.Warn("readLoop: connection dropped", map[string]any{"conn_id": sub.ID, "error": err.Error()})
			}
			return
		}

		var in model.InboundEnvelope
		if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
			h.hub.Reply(sub, model.NewError(helpers.MsgInvalidMessage))
			continue
		}
		h.dispatch(ctx, sub, in)
	}
}

func (h *SocketHandler) dispatch(ctx context.Context, sub *broadcast.Subscriber, in model.InboundEnvelope) {
	switch in.Event {
	case model.EventJoinAuction:
		h.handleJoin(ctx, sub, in.Data)
	case model.EventLeaveAuction:
		auctionID, err := helpers.ParseRoomRequest(in.Data)
		if err != nil {
			h.hub.Reply(sub, model.NewError(helpers.MsgInvalidMessage))
			return
		}
		h.hub.Leave(sub, auctionID)
	case model.EventPlaceBid:
		h.handlePlaceBid(ctx, sub, in.Data)
	default:
		utils.Debug("dispatch: unknown event", map[string]any{"conn_id": sub.ID, "event": in.Event})
		h.hub.Reply(sub, model.NewError(helpers.MsgInvalidMessage))
	}
}

// handleJoin adds the connection to the room first and then sends the
// current snapshot, so no accepted bid can fall between the two.
func (h *SocketHandler) handleJoin(ctx context.Context, sub *broadcast.Subscriber, raw json.RawMessage) {
	auctionID, err := helpers.ParseRoomRequest(raw)
	if err != nil {
		h.hub.Reply(sub, model.NewError(helpers.MsgInvalidMessage))
		return
	}

	h.hub.Join(sub, auctionID)

	snapshot, err := h.service.GetAuction(ctx, auctionID)
	if err != nil {
		h.hub.Leave(sub, auctionID)
		h.hub.Reply(sub, model.NewError(helpers.MapErrorToMessage(err)))
		if !helpers.IsRejection(err) {
			utils.Error("handleJoin: snapshot lookup failed", map[string]any{"conn_id": sub.ID, "auction_id": auctionID, "error": err.Error()})
		}
		return
	}

	h.hub.DeliverSnapshot(sub, auctionID, snapshot.Version, model.NewBidUpdate(snapshot))
	utils.Debug("handleJoin: joined auction", map[string]any{"conn_id": sub.ID, "auction_id": auctionID})
}

func (h *SocketHandler) handlePlaceBid(ctx context.Context, sub *broadcast.Subscriber, raw json.RawMessage) {
	var req helpers.PlaceBidRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.AuctionID == "" || req.UserID == "" {
		h.hub.Reply(sub, model.NewError(helpers.MsgInvalidBid))
		return
	}

	snapshot, err := h.bids.PlaceAndPublish(ctx, req.AuctionID, req.UserID, req.BidAmount)
	if err != nil {
		h.hub.Reply(sub, model.NewError(helpers.MapErrorToMessage(err)))
		fields := map[string]any{
			"conn_id":    sub.ID,
			"auction_id": req.AuctionID,
			"user_id":    req.UserID,
			"amount":     req.BidAmount,
			"error":      err.Error(),
		}
		if helpers.IsRejection(err) {
			utils.Info("handlePlaceBid: bid rejected", fields)
		} else {
			utils.Error("handlePlaceBid: failed to place bid", fields)
		}
		return
	}

	helpers.LogSuccess("handlePlaceBid", "bid accepted", map[string]any{
		"conn_id":    sub.ID,
		"auction_id": snapshot.ID,
		"user_id":    req.UserID,
		"amount":     snapshot.CurrentBid,
		"version":    snapshot.Version,
	})
}

// writeLoop is the only goroutine that writes data frames to conn. It closes
// the connection when it returns so a blocked reader is released.
func (h *SocketHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *broadcast.Subscriber) {
	defer conn.Close()

	var tick <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			h.writeClose(conn, websocket.CloseNormalClosure, "")
			return
		case <-sub.Done():
			h.writeClose(conn, websocket.CloseNormalClosure, "")
			return
		case <-sub.Lagging():
			utils.Warn("writeLoop: dropping lagging connection", map[string]any{"conn_id": sub.ID})
			h.writeClose(conn, websocket.CloseTryAgainLater, "too slow")
			return
		case env := <-sub.Channel:
			h.setWriteDeadline(conn)
			if err := conn.WriteJSON(env); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					utils.Debug("writeLoop: write failed", map[string]any{"conn_id": sub.ID, "error": err.Error()})
				}
				return
			}
		case <-tick:
			h.setWriteDeadline(conn)
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *SocketHandler) setWriteDeadline(conn *websocket.Conn) {
	if h.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	}
}

func (h *SocketHandler) writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(time.Second)
	if h.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(h.cfg.WriteTimeout)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

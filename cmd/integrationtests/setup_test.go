package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	bidding "realtime-auction/internal/biddingService"
	"realtime-auction/internal/broadcast"
	model "realtime-auction/internal/models"
	"realtime-auction/internal/repository"
	"realtime-auction/internal/server"
	"realtime-auction/internal/sweeper"
	"realtime-auction/services/bidding/handler"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// testEnv is a full in-process stack on the in-memory store
type testEnv struct {
	URL     string
	Repo    *repository.MemoryRepo
	Users   *repository.MemoryUserDirectory
	Hub     *broadcast.Hub
	Sweeper *sweeper.Sweeper
}

// SetupTestEnv starts the server with the given users and auctions seeded
func SetupTestEnv(t *testing.T, users []model.User, auctions ...model.Auction) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepo()
	directory := repository.NewMemoryUserDirectory()
	require.NoError(t, repository.Seed(context.Background(), repository.MemorySeeder{Auctions: repo, Users: directory}, users, auctions))

	hub := broadcast.NewHub(32)
	svc := bidding.NewBiddingService(repo, directory)
	bids := handler.NewBiddingHandler(svc, hub)
	sockets := handler.NewSocketHandler(bids, hub, handler.SocketConfig{
		PingInterval: time.Second,
		WriteTimeout: time.Second,
	})
	srv := server.New(server.Config{Addr: "127.0.0.1:0"}, bids, sockets, hub)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		URL:     ts.URL,
		Repo:    repo,
		Users:   directory,
		Hub:     hub,
		Sweeper: sweeper.New(repo, hub, directory, sweeper.Config{Interval: time.Second, WatchdogMultiple: 3}),
	}
}

// ExecuteRequestAndParse executes an HTTP request against the env and parses the response
func (e *testEnv) ExecuteRequestAndParse(t *testing.T, method, path string, body any) (map[string]any, int) {
	t.Helper()

	var reqBody []byte
	switch v := body.(type) {
	case nil:
	case string:
		reqBody = []byte(v)
	default:
		var err error
		reqBody, err = json.Marshal(v)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, e.URL+path, bytes.NewReader(reqBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var resp map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	return resp, res.StatusCode
}

// wsClient is one browser tab on the real-time channel
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (e *testEnv) Connect(t *testing.T) *wsClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) Send(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func (c *wsClient) Next() frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(c.t, c.conn.ReadJSON(&f))
	return f
}

// Quiet asserts nothing arrives within a short window
func (c *wsClient) Quiet() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var f frame
	err := c.conn.ReadJSON(&f)
	require.Error(c.t, err, "unexpected %s frame: %s", f.Event, f.Data)
}

func (c *wsClient) Join(auctionID string) model.AuctionSnapshot {
	c.t.Helper()
	c.Send(model.EventJoinAuction, auctionID)
	return c.NextUpdate()
}

func (c *wsClient) Bid(auctionID, userID string, amount int64) {
	c.t.Helper()
	c.Send(model.EventPlaceBid, map[string]any{"auctionId": auctionID, "userId": userID, "bidAmount": amount})
}

func (c *wsClient) NextUpdate() model.AuctionSnapshot {
	c.t.Helper()
	f := c.Next()
	require.Equal(c.t, model.EventBidUpdate, f.Event, "data: %s", f.Data)
	var snap model.AuctionSnapshot
	require.NoError(c.t, json.Unmarshal(f.Data, &snap))
	return snap
}

func (c *wsClient) NextError() string {
	c.t.Helper()
	f := c.Next()
	require.Equal(c.t, model.EventError, f.Event, "data: %s", f.Data)
	var e model.ErrorEvent
	require.NoError(c.t, json.Unmarshal(f.Data, &e))
	return e.Message
}

func (c *wsClient) NextEnded() model.AuctionEndedEvent {
	c.t.Helper()
	f := c.Next()
	require.Equal(c.t, model.EventAuctionEnded, f.Event, "data: %s", f.Data)
	var e model.AuctionEndedEvent
	require.NoError(c.t, json.Unmarshal(f.Data, &e))
	return e
}

var testUsers = []model.User{
	{UserID: "seller1", Username: "sally"},
	{UserID: "userA", Username: "alice"},
	{UserID: "userB", Username: "bob"},
	{UserID: "userC", Username: "carol"},
}

func openAuction(id string, startingBid int64, endsIn time.Duration) model.Auction {
	now := time.Now().UTC()
	return model.Auction{
		ID:          id,
		Title:       "title " + id,
		Description: "description " + id,
		StartingBid: startingBid,
		CurrentBid:  startingBid,
		Seller:      "seller1",
		EndTime:     now.Add(endsIn),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"realtime-auction/internal/biddingerrors"
	model "realtime-auction/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testSnapshot(current int64, version int64) model.AuctionSnapshot {
	return model.AuctionSnapshot{
		ID:            "a1",
		Title:         "Vintage camera",
		StartingBid:   100,
		CurrentBid:    current,
		HighestBidder: &model.BidderRef{ID: "user1", Username: "alice"},
		Seller:        model.BidderRef{ID: "seller1", Username: "sally"},
		EndTime:       time.Date(2026, 10, 17, 13, 0, 0, 0, time.UTC),
		Version:       version,
	}
}

// Test RecordBidHandler
func TestRecordBidHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		mockSetup      func(svc *MockBiddingServiceInterface, bc *MockBroadcaster)
		expectedStatus int
		expectedMsg    string
		validateData   func(t *testing.T, data map[string]any)
	}{
		{
			name:        "success_publishes_update",
			requestBody: map[string]any{"bidAmount": 150, "userId": "user1"},
			mockSetup: func(svc *MockBiddingServiceInterface, bc *MockBroadcaster) {
				snap := testSnapshot(150, 2)
				svc.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", int64(150)).Return(snap, nil)
				bc.EXPECT().Publish("a1", int64(2), model.NewBidUpdate(snap)).Return(true)
			},
			expectedStatus: http.StatusCreated,
			expectedMsg:    "bid recorded successfully",
			validateData: func(t *testing.T, data map[string]any) {
				require.Equal(t, "a1", data["id"])
				require.Equal(t, 150.0, data["currentBid"])
				require.Equal(t, 2.0, data["version"])
				bidder := data["highestBidder"].(map[string]any)
				require.Equal(t, "alice", bidder["username"])
			},
		},
		{
			name:           "invalid_json",
			requestBody:    `{invalid json}`,
			mockSetup:      func(*MockBiddingServiceInterface, *MockBroadcaster) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:           "missing_user_id",
			requestBody:    map[string]any{"bidAmount": 150},
			mockSetup:      func(*MockBiddingServiceInterface, *MockBroadcaster) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:           "zero_amount",
			requestBody:    map[string]any{"bidAmount": 0, "userId": "user1"},
			mockSetup:      func(*MockBiddingServiceInterface, *MockBroadcaster) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:           "negative_amount",
			requestBody:    map[string]any{"bidAmount": -10, "userId": "user1"},
			mockSetup:      func(*MockBiddingServiceInterface, *MockBroadcaster) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:           "fractional_amount",
			requestBody:    `{"bidAmount": 150.5, "userId": "user1"}`,
			mockSetup:      func(*MockBiddingServiceInterface, *MockBroadcaster) {},
			expectedStatus: http.StatusBadRequest,
			expectedMsg:    "invalid request payload",
		},
		{
			name:        "bid_too_low_not_published",
			requestBody: map[string]any{"bidAmount": 100, "userId": "user1"},
			mockSetup: func(svc *MockBiddingServiceInterface, _ *MockBroadcaster) {
				svc.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", int64(100)).
					Return(model.AuctionSnapshot{}, fmt.Errorf("service: %w", biddingerrors.ErrBidTooLow))
			},
			expectedStatus: http.StatusConflict,
			expectedMsg:    "bid amount too low",
		},
		{
			name:        "auction_finished",
			requestBody: map[string]any{"bidAmount": 500, "userId": "user1"},
			mockSetup: func(svc *MockBiddingServiceInterface, _ *MockBroadcaster) {
				svc.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", int64(500)).
					Return(model.AuctionSnapshot{}, biddingerrors.ErrAuctionFinished)
			},
			expectedStatus: http.StatusGone,
			expectedMsg:    "auction has ended",
		},
		{
			name:        "auction_not_found",
			requestBody: map[string]any{"bidAmount": 500, "userId": "user1"},
			mockSetup: func(svc *MockBiddingServiceInterface, _ *MockBroadcaster) {
				svc.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", int64(500)).
					Return(model.AuctionSnapshot{}, biddingerrors.ErrAuctionNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "auction not found",
		},
		{
			name:        "store_unavailable",
			requestBody: map[string]any{"bidAmount": 500, "userId": "user1"},
			mockSetup: func(svc *MockBiddingServiceInterface, _ *MockBroadcaster) {
				svc.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", int64(500)).
					Return(model.AuctionSnapshot{}, biddingerrors.ErrStoreUnavailable)
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedMsg:    "service temporarily unavailable",
		},
		{
			name:        "unexpected_error",
			requestBody: map[string]any{"bidAmount": 500, "userId": "user1"},
			mockSetup: func(svc *MockBiddingServiceInterface, _ *MockBroadcaster) {
				svc.EXPECT().PlaceBid(gomock.Any(), "a1", "user1", int64(500)).
					Return(model.AuctionSnapshot{}, errors.New("boom"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedMsg:    "internal server error",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			svc := NewMockBiddingServiceInterface(ctrl)
			bc := NewMockBroadcaster(ctrl)
			tc.mockSetup(svc, bc)

			router := gin.New()
			router.POST("/auctions/:auction_id/bids", NewBiddingHandler(svc, bc).RecordBidHandler)

			var reqBody []byte
			switch v := tc.requestBody.(type) {
			case string:
				reqBody = []byte(v)
			default:
				var err error
				reqBody, err = json.Marshal(v)
				require.NoError(t, err)
			}

			req := httptest.NewRequest(http.MethodPost, "/auctions/a1/bids", bytes.NewReader(reqBody))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tc.expectedStatus, w.Code)

			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.Contains(t, resp["message"], tc.expectedMsg)

			if tc.validateData != nil {
				tc.validateData(t, resp["data"].(map[string]any))
			}
		})
	}
}

// Test GetAuctionHandler
func TestGetAuctionHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		auctionID      string
		mockSetup      func(svc *MockBiddingServiceInterface)
		expectedStatus int
		expectedMsg    string
	}{
		{
			name:      "found",
			auctionID: "a1",
			mockSetup: func(svc *MockBiddingServiceInterface) {
				svc.EXPECT().GetAuction(gomock.Any(), "a1").Return(testSnapshot(200, 3), nil)
			},
			expectedStatus: http.StatusOK,
			expectedMsg:    "auction retrieved successfully",
		},
		{
			name:      "not_found",
			auctionID: "missing",
			mockSetup: func(svc *MockBiddingServiceInterface) {
				svc.EXPECT().GetAuction(gomock.Any(), "missing").Return(model.AuctionSnapshot{}, biddingerrors.ErrAuctionNotFound)
			},
			expectedStatus: http.StatusNotFound,
			expectedMsg:    "auction not found",
		},
		{
			name:      "store_down",
			auctionID: "a1",
			mockSetup: func(svc *MockBiddingServiceInterface) {
				svc.EXPECT().GetAuction(gomock.Any(), "a1").Return(model.AuctionSnapshot{}, biddingerrors.ErrStoreUnavailable)
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedMsg:    "service temporarily unavailable",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			svc := NewMockBiddingServiceInterface(ctrl)
			tc.mockSetup(svc)

			router := gin.New()
			router.GET("/auctions/:auction_id", NewBiddingHandler(svc, NewMockBroadcaster(ctrl)).GetAuctionHandler)

			req := httptest.NewRequest(http.MethodGet, "/auctions/"+tc.auctionID, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tc.expectedStatus, w.Code)

			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.Equal(t, tc.expectedMsg, resp["message"])
			if w.Code == http.StatusOK {
				data := resp["data"].(map[string]any)
				require.Equal(t, 200.0, data["currentBid"])
			}
		})
	}
}

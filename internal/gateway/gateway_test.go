package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/privchat/privchat/internal/wire"
)

func TestDispatchRoutesSendMessage(t *testing.T) {
	var gotUID uint64
	gw := New(Handlers{
		SendMessage: func(ctx context.Context, sess *Session, req wire.SendMessageRequest) wire.SendMessageResponse {
			gotUID = req.FromUID
			return wire.SendMessageResponse{ReasonCode: wire.ReasonSuccess, ServerMessageID: 42}
		},
	}, 4)

	body, _ := json.Marshal(wire.SendMessageRequest{LocalMessageID: 1})
	biz, respBody, err := gw.Dispatch(context.Background(), &Session{UserID: 100}, wire.BizSendMessage, body)

	require.NoError(t, err)
	require.Equal(t, wire.BizSendMessage, biz)
	require.Equal(t, uint64(100), gotUID)

	var resp wire.SendMessageResponse
	require.NoError(t, json.Unmarshal(respBody, &resp))
	require.Equal(t, uint64(42), resp.ServerMessageID)
}

func TestDispatchUnknownBizTypeErrors(t *testing.T) {
	gw := New(Handlers{}, 4)
	_, _, err := gw.Dispatch(context.Background(), &Session{}, wire.BizType(99), nil)
	require.Error(t, err)
}

func TestDispatchRejectsWhenAdmissionSaturated(t *testing.T) {
	release := make(chan struct{})
	var wg sync.WaitGroup

	gw := New(Handlers{
		Ping: func(ctx context.Context, sess *Session, req wire.PingRequest) wire.PongResponse {
			<-release
			return wire.PongResponse{}
		},
	}, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		gw.Dispatch(context.Background(), &Session{}, wire.BizPing, nil)
	}()

	// Give the first call time to acquire the single slot.
	for len(gw.sem) == 0 {
	}

	_, _, err := gw.Dispatch(context.Background(), &Session{}, wire.BizPing, nil)
	require.ErrorIs(t, err, ErrAdmissionRejected)

	close(release)
	wg.Wait()
}

func TestDispatchPingDefaultsToEmptyPong(t *testing.T) {
	gw := New(Handlers{}, 4)
	biz, body, err := gw.Dispatch(context.Background(), &Session{}, wire.BizPing, nil)
	require.NoError(t, err)
	require.Equal(t, wire.BizPing, biz)
	require.NotNil(t, body)
}

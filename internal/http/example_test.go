package http_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	httpserver "github.com/fyrsmithlabs/askd/internal/http"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

type staticTurns struct{}

func (staticTurns) ProcessTurn(_ context.Context, msg conversation.Message, _ ...orchestrator.TurnOption) (*orchestrator.Turn, error) {
	key, err := conversation.KeyFor(msg)
	if err != nil {
		return nil, err
	}
	return &orchestrator.Turn{Key: key, Reply: "Deploy keys rotate from the ops console."}, nil
}

// ExampleServer posts one turn to the API.
func ExampleServer() {
	server, err := httpserver.NewServer(staticTurns{}, nil, zap.NewNop(), nil)
	if err != nil {
		panic(err)
	}

	body := []byte(`{"text":"how do I rotate deploy keys?","channel_id":"C1","thread_id":"T1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/turn", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	fmt.Println(rec.Code)
	// Output: 200
}

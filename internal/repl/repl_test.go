package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bqdrift/bqdrift/internal/dag"
	"github.com/bqdrift/bqdrift/internal/loader"
	"github.com/bqdrift/bqdrift/internal/state"
	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(t *testing.T) *Session {
	t.Helper()
	q := &core.Query{
		Name:    "analytics.daily_user_stats",
		RawYAML: []byte("name: analytics.daily_user_stats\n"),
		Destination: core.Destination{
			Dataset:   "analytics",
			Table:     "daily_user_stats",
			Partition: core.PartitionSpec{Type: core.PartitionTime, Granularity: core.GranularityDay, Field: "date"},
		},
		Versions: []core.Version{{
			Version:       1,
			EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			SQL:           "SELECT date FROM analytics.events WHERE date = @partition_date",
		}},
	}
	repo := &loader.Repository{
		Queries:       []*core.Query{q},
		ByName:        map[string]*core.Query{q.Name: q},
		ByDestination: map[string]*core.Query{q.Destination.Relation(): q},
		Graph:         dag.New(),
	}
	repo.Graph.AddNode(q.Name)
	return NewSession(repo, state.NewMemory(), nil)
}

func TestEvalList(t *testing.T) {
	s := testSession(t)
	out, err := s.Eval(context.Background(), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "analytics.daily_user_stats -> analytics.daily_user_stats (1 versions)")
}

func TestEvalShow(t *testing.T) {
	s := testSession(t)
	out, err := s.Eval(context.Background(), "show analytics.daily_user_stats")
	require.NoError(t, err)
	assert.Contains(t, out, "v1 effective 2024-01-01")

	_, err = s.Eval(context.Background(), "show nope")
	assert.Error(t, err)
}

func TestEvalStatus(t *testing.T) {
	s := testSession(t)
	out, err := s.Eval(context.Background(), "status analytics.daily_user_stats 2024-06-15")
	require.NoError(t, err)
	assert.Contains(t, out, "never_run")
}

func TestEvalUnknownVerb(t *testing.T) {
	s := testSession(t)
	_, err := s.Eval(context.Background(), "frobnicate")
	assert.Error(t, err)
}

func TestServerEvalRoundTrip(t *testing.T) {
	s := testSession(t)
	srv := NewServer(s, ServerConfig{})

	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"eval","params":{"line":"list"}}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n" +
			`{"jsonrpc":"2.0","id":3,"method":"nope"}` + "\n")
	var out bytes.Buffer
	require.NoError(t, srv.Run(context.Background(), in, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var first Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Nil(t, first.Error)
	assert.Contains(t, first.Result, "analytics.daily_user_stats")

	var second Response
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "pong", second.Result)

	var third Response
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))
	require.NotNil(t, third.Error)
	assert.Equal(t, codeMethodNotFound, third.Error.Code)
}

func TestServerSessionCap(t *testing.T) {
	s := testSession(t)
	srv := NewServer(s, ServerConfig{MaxSessions: 1})

	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"ping","params":{"session":"a"}}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"ping","params":{"session":"b"}}` + "\n")
	var out bytes.Buffer
	require.NoError(t, srv.Run(context.Background(), in, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var second Response
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.NotNil(t, second.Error)
	assert.Contains(t, second.Error.Message, "session limit")
}

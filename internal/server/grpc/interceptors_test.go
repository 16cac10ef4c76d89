package grpcserver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/bookloan/internal/limiter"
	"github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/obs"
	"github.com/and161185/bookloan/internal/service"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

var loansInfo = &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/GetSettings"}

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	ic := LoggingUnary(zaptest.NewLogger(t), obs.NewMetrics())
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})

	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	resp, err := ic(ctx, "req", loansInfo, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := errors.New("boom")
	hErr := func(ctx context.Context, req any) (any, error) { return nil, wantErr }
	if _, err = ic(ctx, "req", loansInfo, hErr); !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestLoggingUnary_NilMetrics(t *testing.T) {
	t.Parallel()

	ic := LoggingUnary(zaptest.NewLogger(t), nil)
	h := func(ctx context.Context, req any) (any, error) { return 42, nil }
	if resp, err := ic(context.Background(), "req", loansInfo, h); err != nil || resp.(int) != 42 {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
}

func TestNewRequestID_Monotonic(t *testing.T) {
	t.Parallel()

	prev := newRequestID()
	for i := 0; i < 100; i++ {
		next := newRequestID()
		if len(next) != 26 || next <= prev {
			t.Fatalf("request ids not increasing: %q then %q", prev, next)
		}
		prev = next
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	panicH := func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	}

	_, err := ic(context.Background(), "req", loansInfo, panicH)
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	h := func(ctx context.Context, req any) (any, error) { return 42, nil }
	resp, err := ic(context.Background(), "req", loansInfo, h)
	if err != nil || resp.(int) != 42 {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
}

func TestAuthUnary(t *testing.T) {
	t.Parallel()

	tokens := service.NewTokens([]byte("test-secret"), time.Hour)
	ic := AuthUnary(tokens)
	who := model.Identity{UserID: uuid.Must(uuid.NewV4()), IsAdmin: true}
	raw, _, err := tokens.Issue(who)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var seen model.Identity
	h := func(ctx context.Context, req any) (any, error) {
		seen, _ = IdentityFromCtx(ctx)
		return "ok", nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+raw))
	if _, err := ic(ctx, "req", loansInfo, h); err != nil {
		t.Fatalf("valid token: %v", err)
	}
	if seen != who {
		t.Fatalf("identity: got %+v want %+v", seen, who)
	}

	if _, err := ic(context.Background(), "req", loansInfo, h); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("no token: want Unauthenticated, got %v", err)
	}

	other := service.NewTokens([]byte("other-secret"), time.Hour)
	forged, _, _ := other.Issue(who)
	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+forged))
	if _, err := ic(ctx, "req", loansInfo, h); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("foreign key: want Unauthenticated, got %v", err)
	}

	health := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := ic(context.Background(), "req", health, h); err != nil {
		t.Fatalf("health must not require auth: %v", err)
	}
}

func TestRateLimitUnary(t *testing.T) {
	t.Parallel()

	m := obs.NewMetrics()
	ic := RateLimitUnary(limiter.NewTokenBucket(0.001, 1), m)
	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	alice := WithIdentity(context.Background(), model.Identity{UserID: uuid.Must(uuid.NewV4())})
	bob := WithIdentity(context.Background(), model.Identity{UserID: uuid.Must(uuid.NewV4())})

	if _, err := ic(alice, "req", loansInfo, h); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := ic(alice, "req", loansInfo, h); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("second call: want ResourceExhausted, got %v", err)
	}
	if _, err := ic(bob, "req", loansInfo, h); err != nil {
		t.Fatalf("other identity has its own bucket: %v", err)
	}
	if got := scrape(t, m); !strings.Contains(got, "bookloan_rate_limited_total 1") {
		t.Fatalf("rate limited counter missing:\n%s", got)
	}
}

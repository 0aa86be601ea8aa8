package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/solatis/rewardkeeper/internal/core/api"
	"github.com/solatis/rewardkeeper/internal/core/auth"
	"github.com/solatis/rewardkeeper/internal/core/config"
	"github.com/solatis/rewardkeeper/internal/core/db"
	"github.com/solatis/rewardkeeper/internal/rules"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testServer struct {
	conn   *grpc.ClientConn
	client *api.Client
	apiKey string
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)

	database, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.MigrateUp(database); err != nil {
		t.Fatal(err)
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		t.Fatal(err)
	}
	store := db.NewStore(queries)

	ctx := context.Background()
	pid, err := store.CreateProject(ctx, "school")
	if err != nil {
		t.Fatal(err)
	}
	key, hash, err := auth.GenerateAPIKey(testSecretID, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateAPIKey(ctx, pid, testSecretID, hash, "test"); err != nil {
		t.Fatal(err)
	}

	service, err := api.NewRewardService(store, rules.NewEngine(log), log)
	if err != nil {
		t.Fatal(err)
	}
	authenticator := auth.NewAuthenticator(map[string][]byte{testSecretID: testSecret}, queries, log)

	srv, err := NewGRPCServer(config.DefaultConfig(), service, authenticator, log)
	if err != nil {
		t.Fatalf("NewGRPCServer() error = %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	return &testServer{conn: conn, client: api.NewClient(conn), apiKey: key}
}

func (s *testServer) authed() context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "x-api-key", s.apiKey)
}

func mustStruct(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	t.Helper()
	st, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestNewGRPCServer_NilArgs(t *testing.T) {
	if _, err := NewGRPCServer(nil, nil, nil, nil); err == nil {
		t.Error("NewGRPCServer(nil) error = nil, want error")
	}
}

func TestGRPCServer_HealthWithoutKey(t *testing.T) {
	s := startServer(t)

	resp, err := grpc_health_v1.NewHealthClient(s.conn).Check(context.Background(),
		&grpc_health_v1.HealthCheckRequest{Service: api.ServiceName})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}

func TestGRPCServer_Authentication(t *testing.T) {
	s := startServer(t)
	in := mustStruct(t, map[string]interface{}{"formula": "P/10"})

	tests := []struct {
		name string
		ctx  context.Context
		want codes.Code
	}{
		{"no key", context.Background(), codes.Unauthenticated},
		{"garbage key", metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "nope"), codes.Unauthenticated},
		{"valid key", s.authed(), codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.client.Call(tt.ctx, "ValidateFormula", in)
			if got := status.Code(err); got != tt.want {
				t.Errorf("code = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestGRPCServer_ScoreRoundTrip(t *testing.T) {
	s := startServer(t)
	ctx := s.authed()

	call := func(method string, fields map[string]interface{}) *structpb.Struct {
		t.Helper()
		out, err := s.client.Call(ctx, method, mustStruct(t, fields))
		if err != nil {
			t.Fatalf("%s() error = %v", method, err)
		}
		return out
	}

	student := call("CreateStudent", map[string]interface{}{"name": "Ada"}).
		GetFields()["student_id"].GetStringValue()
	subject := call("UpsertSubject", map[string]interface{}{"name": "Math"}).
		GetFields()["subject_id"].GetStringValue()
	call("UpsertRule", map[string]interface{}{"rule": map[string]interface{}{
		"name":           "percent bonus",
		"condition":      "score_range",
		"min_score":      50,
		"max_score":      100,
		"reward_amount":  0,
		"reward_formula": "P/10",
	}})
	created := call("CreateAssessment", map[string]interface{}{
		"student_id":      student,
		"subject_id":      subject,
		"assessment_type": "exam",
		"title":           "Unit 1",
		"max_score":       40,
	})
	aid := created.GetFields()["assessment"].GetStructValue().GetFields()["assessment_id"].GetStringValue()

	scored := call("ScoreAssessment", map[string]interface{}{"assessment_id": aid, "score": 30})
	if got := scored.GetFields()["delta"].GetNumberValue(); got != 8 {
		t.Errorf("delta = %v, want 8", got)
	}

	bal := call("GetStudentBalance", map[string]interface{}{"student_id": student})
	if got := bal.GetFields()["balance"].GetNumberValue(); got != 8 {
		t.Errorf("balance = %v, want 8", got)
	}
}

func TestGRPCServer_UnknownField(t *testing.T) {
	s := startServer(t)

	_, err := s.client.Call(s.authed(), "ValidateFormula", mustStruct(t, map[string]interface{}{"formula": "G", "bogus": 1}))
	if got := status.Code(err); got != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", got)
	}
}

func TestTimeoutInterceptor(t *testing.T) {
	intercept := timeoutInterceptor(50 * time.Millisecond)

	var deadline time.Time
	var hasDeadline bool
	_, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			deadline, hasDeadline = ctx.Deadline()
			return nil, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if !hasDeadline {
		t.Fatal("handler context has no deadline")
	}
	if remaining := time.Until(deadline); remaining > 50*time.Millisecond {
		t.Errorf("deadline %v away, want <= 50ms", remaining)
	}
}

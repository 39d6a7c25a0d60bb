package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeSource struct {
	fault   FaultStats
	coremap CoreMapStats
	swap    SwapStats
}

func (f fakeSource) FaultStats() FaultStats     { return f.fault }
func (f fakeSource) CoreMapStats() CoreMapStats { return f.coremap }
func (f fakeSource) SwapStats() SwapStats       { return f.swap }

func TestHandleStatsEncodesAllSections(t *testing.T) {
	src := fakeSource{
		fault:   FaultStats{TLBHits: 10, MinorFault: 2, MajorFault: 1, Protection: 0},
		coremap: CoreMapStats{TotalFrames: 64, FreeFrames: 50},
		swap:    SwapStats{TotalSlots: 1280, UsedSlots: 3},
	}
	s := New("127.0.0.1:0", nil, src)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.handleStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
	var got statsPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Fault != src.fault || got.CoreMap != src.coremap || got.Swap != src.swap {
		t.Fatalf("got %+v; want fault=%+v coremap=%+v swap=%+v", got, src.fault, src.coremap, src.swap)
	}
}

func TestNewDefaultsTLSConfig(t *testing.T) {
	s := New("127.0.0.1:0", nil, fakeSource{})
	if s.srv.TLSConfig == nil {
		t.Fatal("expected a default TLS config")
	}
	if s.srv.QUICConfig == nil || s.srv.QUICConfig.MaxIdleTimeout != QUICIdleTimeout {
		t.Fatalf("expected QUICConfig.MaxIdleTimeout = %v, got %+v", QUICIdleTimeout, s.srv.QUICConfig)
	}
}

func TestErrorChannelNonBlockingBeforeStart(t *testing.T) {
	s := New("127.0.0.1:0", nil, fakeSource{})
	select {
	case err := <-s.Error():
		t.Fatalf("unexpected error before Start: %v", err)
	default:
	}
}

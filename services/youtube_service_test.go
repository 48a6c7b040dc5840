package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/api/option"
)

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"PT45S", 45, false},
		{"PT15M", 900, false},
		{"PT1H", 3600, false},
		{"PT1H2M3S", 3723, false},
		{"PT0S", 0, false},
		{"PT90M", 5400, false},
		{"P1DT1H", 0, true},
		{"1H2M", 0, true},
		{"PT3M20", 0, true},
		{"PTS", 0, true},
		{"PT1X", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseISODuration(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseISODuration(%q) = %d, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseISODuration(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseISODuration(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewYouTubeServiceRequiresKey(t *testing.T) {
	if _, err := NewYouTubeService(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// fakeDataAPI serves canned search responses the way the remote API
// shapes them.
func fakeDataAPI(t *testing.T, channelID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		items := []interface{}{}
		if channelID != "" {
			items = append(items, map[string]interface{}{
				"id": map[string]interface{}{"kind": "youtube#channel", "channelId": channelID},
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChannelIDForUsername(t *testing.T) {
	srv := fakeDataAPI(t, "UCtest12345")

	ys, err := NewYouTubeService(context.Background(), "test-key", option.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewYouTubeService: %v", err)
	}

	got, err := ys.ChannelIDForUsername(context.Background(), "somecreator")
	if err != nil {
		t.Fatalf("ChannelIDForUsername: %v", err)
	}
	if got != "UCtest12345" {
		t.Errorf("channel id = %q, want UCtest12345", got)
	}
}

func TestChannelIDForUsernameNotFound(t *testing.T) {
	srv := fakeDataAPI(t, "")

	ys, err := NewYouTubeService(context.Background(), "test-key", option.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewYouTubeService: %v", err)
	}

	if _, err := ys.ChannelIDForUsername(context.Background(), "ghost"); err != ErrChannelNotFound {
		t.Errorf("err = %v, want ErrChannelNotFound", err)
	}
}

package ratp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationboard/stationboard/internal/schedule"
	"github.com/stationboard/stationboard/internal/schedule/ratp"
	"github.com/stationboard/stationboard/internal/station"
)

const bastillePayload = `{
	"result": {
		"schedules": [
			{"message": "1 mn", "destination": "La Defense"},
			{"message": "4 mn", "destination": "La Defense"},
			{"message": "8 mn", "destination": "La Defense"}
		]
	},
	"_metadata": {
		"call": "GET /schedules/metros/1/bastille/A",
		"date": "2017-07-18T17:08:42+02:00"
	}
}`

var bastille = station.Reference{
	Key:   "metros/1/bastille/A",
	Label: "Bastille, Direction La Défense",
}

func TestClient_Name(t *testing.T) {
	client := ratp.NewClient(ratp.ClientConfig{Logger: zerolog.Nop()})

	assert.Equal(t, "ratp", client.Name())
	assert.Equal(t, ratp.DefaultBaseURL, client.BaseURL())
}

func TestClient_ScheduleURL(t *testing.T) {
	client := ratp.NewClient(ratp.ClientConfig{Logger: zerolog.Nop()})

	assert.Equal(t,
		"https://api-ratp.pierre-grimaud.fr/v3/schedules/metros/1/bastille/A",
		client.ScheduleURL(bastille.Key))
}

func TestClient_GetSchedule(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/schedules/metros/1/bastille/A", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(bastillePayload))
	}))
	defer server.Close()

	client := ratp.NewClient(ratp.ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Logger:     zerolog.Nop(),
	})

	result, err := client.GetSchedule(context.Background(), bastille)
	require.NoError(t, err)

	assert.Equal(t, bastille.Key, result.Key)
	assert.Equal(t, bastille.Label, result.Label)
	require.Len(t, result.Schedules, 3)
	assert.Equal(t, "1 mn", result.Schedules[0].Message)
	assert.Equal(t, "La Defense", result.Schedules[0].Destination)

	expected := time.Date(2017, time.July, 18, 15, 8, 42, 0, time.UTC)
	assert.True(t, expected.Equal(result.Created))
}

func TestClient_GetSchedule_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := ratp.NewClient(ratp.ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Logger:     zerolog.Nop(),
	})

	_, err := client.GetSchedule(context.Background(), bastille)
	require.Error(t, err)
	assert.ErrorIs(t, err, schedule.ErrNetworkFailure)
}

func TestClient_GetSchedule_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := ratp.NewClient(ratp.ClientConfig{BaseURL: url, Logger: zerolog.Nop()})

	_, err := client.GetSchedule(context.Background(), bastille)
	assert.ErrorIs(t, err, schedule.ErrNetworkFailure)
}

func TestClient_GetSchedule_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result": [`))
	}))
	defer server.Close()

	client := ratp.NewClient(ratp.ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Logger:     zerolog.Nop(),
	})

	_, err := client.GetSchedule(context.Background(), bastille)
	assert.ErrorIs(t, err, schedule.ErrParseFailure)
}

func TestClient_Decode(t *testing.T) {
	client := ratp.NewClient(ratp.ClientConfig{Logger: zerolog.Nop()})

	tests := []struct {
		name    string
		payload string
		wantErr bool
		count   int
	}{
		{name: "full payload", payload: bastillePayload, count: 3},
		{name: "empty schedules", payload: `{"result":{"schedules":[]},"_metadata":{"date":"2017-07-18T17:08:42+02:00"}}`, count: 0},
		{name: "no metadata", payload: `{"result":{"schedules":[{"message":"2 mn"}]}}`, count: 1},
		{name: "missing result", payload: `{"_metadata":{}}`, wantErr: true},
		{name: "bad date", payload: `{"result":{"schedules":[]},"_metadata":{"date":"yesterday"}}`, wantErr: true},
		{name: "not json", payload: `<html>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := client.Decode([]byte(tt.payload), bastille)
			if tt.wantErr {
				assert.ErrorIs(t, err, schedule.ErrParseFailure)
				return
			}
			require.NoError(t, err)
			assert.Len(t, result.Schedules, tt.count)
			assert.Equal(t, bastille.Label, result.Label)
		})
	}
}

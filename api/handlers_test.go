/*
handlers_test.go - HTTP tests for the intake API

Tests for:
- Food item lifecycle over HTTP (prepare, remaining, settle)
- Error status mapping (400 / 404 / 409)
- Observations, corrections, deletes
- Daily stats, replay, verify
- Demo scenarios
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/intake-ledger/intake"
	"github.com/warp/intake-ledger/intake/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	*httptest.Server
	store *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(
		mem,
		intake.NewTracker(mem, logger),
		intake.NewEngine(mem, logger, 2),
		intake.NewStatsService(mem, time.UTC),
		logger,
	)
	srv := httptest.NewServer(NewRouter(h, nil))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: mem}
}

// call sends body as JSON (nil sends no body) and decodes the response into
// out when out is non-nil.
func (s *testServer) call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// Responses are decoded into these instead of the DTOs because EventDTO
// carries an interface-typed payload.
type itemResp struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	FoodMass       decimal.Decimal `json:"food_mass"`
	AddedWater     decimal.Decimal `json:"added_water"`
	TotalRemaining decimal.Decimal `json:"total_remaining"`
}

type eventResp struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	RelatedID string          `json:"related_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type transitionResp struct {
	Item  itemResp  `json:"item"`
	Event eventResp `json:"event"`
}

type decompositionResp struct {
	Consumed           decimal.Decimal `json:"consumed"`
	DrySolids          decimal.Decimal `json:"drySolids"`
	BoundWater         decimal.Decimal `json:"boundWater"`
	AddedWaterConsumed decimal.Decimal `json:"addedWaterConsumed"`
}

func decomposition(t *testing.T, ev eventResp) decompositionResp {
	t.Helper()
	var d decompositionResp
	require.NoError(t, json.Unmarshal(ev.Payload, &d))
	return d
}

func num(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertNum(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(num(want)), "want %s, got %s", want, got)
}

var morning = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

func at(h int) *time.Time {
	t := morning.Add(time.Duration(h) * time.Hour)
	return &t
}

func (s *testServer) prepareWet(t *testing.T, owner string) transitionResp {
	t.Helper()
	var tr transitionResp
	status := s.call(t, http.MethodPost, "/api/owners/"+owner+"/food-items", PrepareRequest{
		FoodType: "wet_food", FoodName: "Chicken pate",
		InitialMass: num("100"), InitialWater: num("50"), At: at(0),
	}, &tr)
	require.Equal(t, http.StatusCreated, status)
	return tr
}

// =============================================================================
// FOOD ITEMS
// =============================================================================

func TestFoodItemLifecycle(t *testing.T) {
	srv := newTestServer(t)

	// GIVEN: 100g wet food with 50g water
	prepared := srv.prepareWet(t, "whiskers")
	assert.Equal(t, "active", prepared.Item.Status)
	assertNum(t, "150", prepared.Item.TotalRemaining)
	base := "/api/owners/whiskers/food-items/" + prepared.Item.ID

	// WHEN: 75g remain at noon
	var rec transitionResp
	status := srv.call(t, http.MethodPost, base+"/remaining", RemainingRequest{ObservedTotal: decimalPtr(num("75")), At: at(4)}, &rec)
	require.Equal(t, http.StatusOK, status)

	// THEN: The response carries the decomposition
	dec := decomposition(t, rec.Event)
	assertNum(t, "75", dec.Consumed)
	assertNum(t, "11", dec.DrySolids)
	assertNum(t, "39", dec.BoundWater)
	assertNum(t, "25", dec.AddedWaterConsumed)
	assertNum(t, "50", rec.Item.FoodMass)

	// WHEN: Settled with an empty body
	var settled transitionResp
	status = srv.call(t, http.MethodPost, base+"/settle", nil, &settled)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "settled", settled.Item.Status)
	assert.True(t, settled.Item.TotalRemaining.IsZero())

	// THEN: The item is frozen
	var errResp ErrorResponse
	status = srv.call(t, http.MethodPost, base+"/water", AmountRequest{Amount: num("10")}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, errResp.Details, "settled")

	// AND: It can still be read
	var item itemResp
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, base, nil, &item))
	assert.Equal(t, "settled", item.Status)
}

func TestFoodItemErrors(t *testing.T) {
	srv := newTestServer(t)
	prepared := srv.prepareWet(t, "whiskers")
	base := "/api/owners/whiskers/food-items/" + prepared.Item.ID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown food type", http.MethodPost, "/api/owners/whiskers/food-items", PrepareRequest{FoodType: "soup", InitialMass: num("1")}, http.StatusBadRequest},
		{"remaining without observed_total", http.MethodPost, base + "/remaining", RemainingRequest{}, http.StatusBadRequest},
		{"more than was there", http.MethodPost, base + "/remaining", RemainingRequest{ObservedTotal: decimalPtr(num("151"))}, http.StatusBadRequest},
		{"negative water", http.MethodPost, base + "/water", AmountRequest{Amount: num("-1")}, http.StatusBadRequest},
		{"same time as preparation", http.MethodPost, base + "/food", AmountRequest{Amount: num("5"), At: &morning}, http.StatusOK},
		{"before preparation", http.MethodPost, base + "/food", AmountRequest{Amount: num("5"), At: at(-1)}, http.StatusBadRequest},
		{"unknown item", http.MethodGet, "/api/owners/whiskers/food-items/nope", nil, http.StatusNotFound},
		{"other owner", http.MethodGet, "/api/owners/felix/food-items/" + prepared.Item.ID, nil, http.StatusNotFound},
		{"bad json", http.MethodPost, base + "/water", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out map[string]any
			assert.Equal(t, tt.want, srv.call(t, tt.method, tt.path, tt.body, &out))
		})
	}
}

func TestListAndDeleteFoodItems(t *testing.T) {
	srv := newTestServer(t)
	first := srv.prepareWet(t, "whiskers")
	srv.prepareWet(t, "whiskers")
	srv.prepareWet(t, "felix")

	var items []itemResp
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, "/api/owners/whiskers/food-items", nil, &items))
	assert.Len(t, items, 2)

	require.Equal(t, http.StatusNoContent, srv.call(t, http.MethodDelete, "/api/owners/whiskers/food-items/"+first.Item.ID, nil, nil))

	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, "/api/owners/whiskers/food-items?status=active", nil, &items))
	assert.Len(t, items, 1)

	var events []eventResp
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, "/api/owners/whiskers/events?related_id="+first.Item.ID, nil, &events))
	assert.Empty(t, events)
}

// =============================================================================
// OBSERVATIONS AND EVENTS
// =============================================================================

func TestObservationsAndCorrections(t *testing.T) {
	srv := newTestServer(t)
	base := "/api/owners/whiskers"

	// GIVEN: A urine weight and a diuretic dose
	var urine eventResp
	status := srv.call(t, http.MethodPost, base+"/observations", ObservationRequest{
		Type: "elimination", At: at(1), Payload: json.RawMessage(`{"weight": 42, "category": "urine"}`),
	}, &urine)
	require.Equal(t, http.StatusCreated, status)
	status = srv.call(t, http.MethodPost, base+"/observations", ObservationRequest{
		Type: "medication", At: at(2), Payload: json.RawMessage(`{"doseType": "diuretic", "dosage": "2.5"}`),
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	// THEN: Bad observations are refused
	assert.Equal(t, http.StatusBadRequest, srv.call(t, http.MethodPost, base+"/observations", ObservationRequest{
		Type: "settle", Payload: json.RawMessage(`{}`),
	}, nil))
	assert.Equal(t, http.StatusBadRequest, srv.call(t, http.MethodPost, base+"/observations", ObservationRequest{
		Type: "elimination", Payload: json.RawMessage(`{"weight": 1, "category": "blood"}`),
	}, nil))

	// WHEN: The urine weight is corrected
	var corrected eventResp
	status = srv.call(t, http.MethodPut, base+"/events/"+urine.ID, CorrectionRequest{
		Payload: json.RawMessage(`{"weight": "40.5", "category": "urine"}`),
	}, &corrected)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"weight": "40.5", "category": "urine"}`, string(corrected.Payload))

	// THEN: Filtering by type returns it
	var events []eventResp
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, base+"/events?type=elimination,respiration", nil, &events))
	require.Len(t, events, 1)
	assert.Equal(t, urine.ID, events[0].ID)

	// AND: It can be deleted once
	assert.Equal(t, http.StatusNoContent, srv.call(t, http.MethodDelete, base+"/events/"+urine.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, srv.call(t, http.MethodDelete, base+"/events/"+urine.ID, nil, nil))
}

func TestCorrectLinkedEvent(t *testing.T) {
	srv := newTestServer(t)
	prepared := srv.prepareWet(t, "whiskers")
	base := "/api/owners/whiskers"

	var rec transitionResp
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodPost, base+"/food-items/"+prepared.Item.ID+"/remaining",
		RemainingRequest{ObservedTotal: decimalPtr(num("75")), At: at(2)}, &rec))

	var corrected eventResp
	status := srv.call(t, http.MethodPut, base+"/events/"+rec.Event.ID, CorrectionRequest{
		Payload: json.RawMessage(`{"observedTotal": 90}`),
	}, &corrected)
	require.Equal(t, http.StatusOK, status)
	assertNum(t, "60", decomposition(t, corrected).Consumed)

	var item itemResp
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, base+"/food-items/"+prepared.Item.ID, nil, &item))
	assertNum(t, "90", item.TotalRemaining)

	// Prepare events cannot be deleted
	assert.Equal(t, http.StatusConflict, srv.call(t, http.MethodDelete, base+"/events/"+prepared.Event.ID, nil, nil))
}

// =============================================================================
// STATS AND MAINTENANCE
// =============================================================================

func TestDailyStats(t *testing.T) {
	srv := newTestServer(t)
	prepared := srv.prepareWet(t, "whiskers")
	base := "/api/owners/whiskers"
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodPost, base+"/food-items/"+prepared.Item.ID+"/remaining",
		RemainingRequest{ObservedTotal: decimalPtr(num("75")), At: at(4)}, nil))
	require.Equal(t, http.StatusCreated, srv.call(t, http.MethodPost, base+"/observations", ObservationRequest{
		Type: "elimination", At: at(5), Payload: json.RawMessage(`{"weight": 42, "category": "urine"}`),
	}, nil))

	var summaries []struct {
		Date             string            `json:"date"`
		DryFoodIntake    decimal.Decimal   `json:"dry_food_intake"`
		WaterIntake      decimal.Decimal   `json:"water_intake"`
		Urine            decimal.Decimal   `json:"urine"`
		RespirationRates []decimal.Decimal `json:"respiration_rates"`
	}
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, base+"/stats/daily?date=2025-03-10&days=2", nil, &summaries))

	require.Len(t, summaries, 2)
	assert.Equal(t, "2025-03-10", summaries[0].Date)
	assertNum(t, "11", summaries[0].DryFoodIntake)
	assertNum(t, "64", summaries[0].WaterIntake)
	assertNum(t, "42", summaries[0].Urine)
	assert.NotNil(t, summaries[0].RespirationRates)
	assert.True(t, summaries[1].DryFoodIntake.IsZero())

	assert.Equal(t, http.StatusBadRequest, srv.call(t, http.MethodGet, base+"/stats/daily?days=0", nil, nil))
	assert.Equal(t, http.StatusBadRequest, srv.call(t, http.MethodGet, base+"/stats/daily?date=10/03/2025", nil, nil))
}

func TestReplayAndVerify(t *testing.T) {
	srv := newTestServer(t)
	prepared := srv.prepareWet(t, "whiskers")
	base := "/api/owners/whiskers"
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodPost, base+"/food-items/"+prepared.Item.ID+"/remaining",
		RemainingRequest{ObservedTotal: decimalPtr(num("75")), At: at(4)}, nil))

	var report ReplayReportDTO
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodPost, base+"/replay", nil, &report))
	assert.Equal(t, 1, report.ItemsProcessed)
	assert.Zero(t, report.EventsFixed)
	assert.Equal(t, 2, report.EventsUnchanged)
	assert.NotNil(t, report.Inconsistencies)

	require.Equal(t, http.StatusOK, srv.call(t, http.MethodPost, base+"/food-items/"+prepared.Item.ID+"/replay", nil, &report))
	assert.Equal(t, 1, report.ItemsProcessed)

	require.Equal(t, http.StatusOK, srv.call(t, http.MethodPost, "/api/replay", nil, &report))
	assert.Equal(t, 1, report.ItemsProcessed)

	var v VerificationDTO
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, base+"/verify", nil, &v))
	assert.True(t, v.Complete)
	assert.Equal(t, 1, v.WithDecomposition)
}

func TestListFoodTypes(t *testing.T) {
	srv := newTestServer(t)

	var types []FoodTypeDTO
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, "/api/food-types", nil, &types))

	fractions := map[string]string{}
	for _, ft := range types {
		fractions[ft.ID] = ft.BoundWaterFraction.String()
	}
	assert.Equal(t, "0.78", fractions["wet_food"])
	assert.Equal(t, "0.08", fractions["dry_food"])
	assert.Equal(t, "1", fractions["water"])
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios(t *testing.T) {
	srv := newTestServer(t)

	var list []ScenarioDTO
	require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, "/api/scenarios", nil, &list))
	require.Len(t, list, len(scenarioLoaders))

	for _, sc := range list {
		t.Run(sc.ID, func(t *testing.T) {
			status := srv.call(t, http.MethodPost, "/api/scenarios/load",
				LoadScenarioRequest{ScenarioID: sc.ID, Owner: "demo-" + sc.ID}, nil)
			assert.Equal(t, http.StatusOK, status)

			events, err := srv.store.ListEvents(context.Background(), intake.EventFilter{Owner: intake.OwnerID("demo-" + sc.ID)})
			require.NoError(t, err)
			assert.NotEmpty(t, events)

			var v VerificationDTO
			require.Equal(t, http.StatusOK, srv.call(t, http.MethodGet, "/api/owners/demo-"+sc.ID+"/verify", nil, &v))
			assert.True(t, v.Complete, "every consumption event is decomposed")
		})
	}

	assert.Equal(t, http.StatusBadRequest, srv.call(t, http.MethodPost, "/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "nope", Owner: "demo"}, nil))
	assert.Equal(t, http.StatusBadRequest, srv.call(t, http.MethodPost, "/api/scenarios/load",
		LoadScenarioRequest{ScenarioID: "refill-day"}, nil))
}

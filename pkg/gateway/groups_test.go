package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"wakit/pkg/roster"
)

type fakeGroups struct {
	groups           *roster.Groups
	err              error
	withParticipants bool
}

func (f *fakeGroups) Get(_ context.Context, withParticipants bool) (*roster.Groups, error) {
	f.withParticipants = withParticipants
	return f.groups, f.err
}

func sampleRoster() *roster.Groups {
	return &roster.Groups{
		Groups: []roster.Group{
			{ID: "1@g.us", Subject: "Vecinos Centro", IsCommunity: true, Size: 30},
			{ID: "2@g.us", Subject: "Futbol martes", Size: 12, Participants: []roster.Participant{{ID: "a"}}},
		},
		Failures: []roster.Failure{{ID: "3@g.us", Reason: "size: expected number"}},
	}
}

func getGroups(t *testing.T, svc *Service, path string) (int, groupsResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var response groupsResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
			t.Fatalf("decode groups: %v", err)
		}
	}
	return rec.Code, response
}

func TestGroupsListsRosterWithCounts(t *testing.T) {
	source := &fakeGroups{groups: sampleRoster()}
	svc := newTestService(t, nil, Deps{Dispatcher: &fakeDispatcher{}, Groups: source})

	code, response := getGroups(t, svc, "/groups?participants=true")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if !source.withParticipants {
		t.Fatal("expected participants flag to reach the source")
	}
	if len(response.Groups) != 2 || response.Failed != 1 {
		t.Fatalf("groups = %d failed = %d, want 2 and 1", len(response.Groups), response.Failed)
	}
	if response.Counts[roster.KindCommunityRoot] != 1 || response.Counts[roster.KindRegularGroup] != 1 {
		t.Fatalf("counts = %v", response.Counts)
	}
}

func TestGroupsSearch(t *testing.T) {
	svc := newTestService(t, nil, Deps{Dispatcher: &fakeDispatcher{}, Groups: &fakeGroups{groups: sampleRoster()}})

	_, response := getGroups(t, svc, "/groups?q=futbol")
	if len(response.Groups) != 1 || response.Groups[0].ID != "2@g.us" {
		t.Fatalf("search result = %+v", response.Groups)
	}
	if response.Groups[0].Participants != 1 {
		t.Fatalf("participants = %d, want 1", response.Groups[0].Participants)
	}
}

func TestGroupsSourceFailure(t *testing.T) {
	svc := newTestService(t, nil, Deps{Dispatcher: &fakeDispatcher{}, Groups: &fakeGroups{err: errors.New("gateway down")}})

	if code, _ := getGroups(t, svc, "/groups"); code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", code)
	}
}

func TestGroupsRouteAbsentWithoutSource(t *testing.T) {
	svc := newTestService(t, nil, Deps{Dispatcher: &fakeDispatcher{}})

	if code, _ := getGroups(t, svc, "/groups"); code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
}

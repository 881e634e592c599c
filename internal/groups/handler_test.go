package groups

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codereplay/backend/internal/middleware"
	"github.com/codereplay/backend/internal/models"
)

type fakeStore struct {
	groups  map[uuid.UUID]*models.RecordingGroup
	members map[uuid.UUID]map[string]models.GroupRole
}

func newFakeStore() *fakeStore {
	return &fakeStore{groups: map[uuid.UUID]*models.RecordingGroup{}, members: map[uuid.UUID]map[string]models.GroupRole{}}
}

func (f *fakeStore) Create(_ context.Context, name, creator string) (*models.GroupMembership, error) {
	g := &models.RecordingGroup{ID: uuid.New(), Name: name, CreatorEmail: creator, Active: true}
	f.groups[g.ID] = g
	f.members[g.ID] = map[string]models.GroupRole{creator: models.GroupRoleCreator}
	return &models.GroupMembership{RecordingGroup: *g, Role: models.GroupRoleCreator}, nil
}

func (f *fakeStore) ListForUser(_ context.Context, email string) ([]models.GroupMembership, error) {
	out := []models.GroupMembership{}
	for id, m := range f.members {
		if role, ok := m[email]; ok {
			out = append(out, models.GroupMembership{RecordingGroup: *f.groups[id], Role: role})
		}
	}
	return out, nil
}

func (f *fakeStore) Join(_ context.Context, groupID uuid.UUID, email string) error {
	g, ok := f.groups[groupID]
	if !ok || !g.Active {
		return ErrGroupNotFound
	}
	if _, ok := f.members[groupID][email]; !ok {
		f.members[groupID][email] = models.GroupRoleMember
	}
	return nil
}

func (f *fakeStore) SetActive(_ context.Context, groupID uuid.UUID, email string, active bool) error {
	g, ok := f.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	if g.CreatorEmail != email {
		return ErrNotCreator
	}
	g.Active = active
	return nil
}

func router(h *Handler, email string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(func(c *gin.Context) { c.Set(middleware.ContextIdentity, models.Identity{Email: email}) })
	e.GET("/recording_group", h.List)
	e.POST("/recording_group", h.Create)
	e.POST("/join_group", h.Join)
	e.POST("/update_group/:id/:status", h.SetStatus)
	return e
}

func serve(e *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func createGroup(t *testing.T, e *gin.Engine, name string) string {
	t.Helper()
	w := serve(e, http.MethodPost, "/recording_group", `{"name":"`+name+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		NewGroup struct {
			GroupID string `json:"groupId"`
			Name    string `json:"name"`
			Role    string `json:"role"`
			Active  bool   `json:"active"`
		} `json:"newGroup"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, name, body.NewGroup.Name)
	assert.Equal(t, "creator", body.NewGroup.Role)
	assert.True(t, body.NewGroup.Active)
	return body.NewGroup.GroupID
}

func TestCreateJoinAndList(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, nil)
	owner := router(h, "owner@example.com")
	member := router(h, "member@example.com")

	id := createGroup(t, owner, "CS101")

	w := serve(member, http.MethodPost, "/join_group", `{"groupId":"`+id+`"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())

	w = serve(member, http.MethodGet, "/recording_group", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"groups":[{"groupId":"`+id+`","name":"CS101","active":true,"role":"member"}]}`, w.Body.String())
}

func TestCreateRequiresName(t *testing.T) {
	w := serve(router(NewHandler(newFakeStore(), nil), "a@b.c"), http.MethodPost, "/recording_group", `{"name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJoinUnknownGroup(t *testing.T) {
	e := router(NewHandler(newFakeStore(), nil), "a@b.c")
	w := serve(e, http.MethodPost, "/join_group", `{"groupId":"`+uuid.NewString()+`"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "group not found", w.Body.String())

	w = serve(e, http.MethodPost, "/join_group", `{"groupId":"not-a-uuid"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJoinInactiveGroup(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, nil)
	owner := router(h, "owner@example.com")
	id := createGroup(t, owner, "old")

	w := serve(owner, http.MethodPost, "/update_group/"+id+"/inactive", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = serve(router(h, "late@example.com"), http.MethodPost, "/join_group", `{"groupId":"`+id+`"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetStatusCreatorOnly(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, nil)
	id := createGroup(t, router(h, "owner@example.com"), "g")

	w := serve(router(h, "intruder@example.com"), http.MethodPost, "/update_group/"+id+"/inactive", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.True(t, store.groups[uuid.MustParse(id)].Active)

	w = serve(router(h, "owner@example.com"), http.MethodPost, "/update_group/"+id+"/bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(router(h, "owner@example.com"), http.MethodPost, "/update_group/"+uuid.NewString()+"/active", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package users

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	members []Member
	err     error
	filter  ListFilter
}

func (s *stubRepo) ListMembers(_ context.Context, filter ListFilter) ([]Member, error) {
	s.filter = filter
	return s.members, s.err
}

type recordingRenderer struct {
	status int
	name   string
	data   any
}

func (r *recordingRenderer) RenderPage(w http.ResponseWriter, _ *http.Request, status int, name, _ string, data any) {
	r.status, r.name, r.data = status, name, data
	w.WriteHeader(status)
}

func TestServiceRejectsUnknownRoleFilter(t *testing.T) {
	repo := &stubRepo{}
	_, err := NewService(repo).ListMembers(context.Background(), ListFilter{Role: "pharmacist"})
	require.ErrorIs(t, err, ErrUnknownRoleFilter)
}

func TestServiceCanonicalisesRoleFilter(t *testing.T) {
	repo := &stubRepo{}
	_, err := NewService(repo).ListMembers(context.Background(), ListFilter{Role: "billing"})
	require.NoError(t, err)
	require.Equal(t, "billing", repo.filter.Role)
}

func TestHandlerListLabelsRoles(t *testing.T) {
	repo := &stubRepo{members: []Member{
		{ID: "1", Email: "staff@novafarm.test", Role: "staff", IsActive: true},
		{ID: "2", Email: "orphan@novafarm.test"},
	}}
	pages := &recordingRenderer{}
	h := NewHandler(nil, NewService(repo), pages)

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/console/users?q=novafarm", nil))

	require.Equal(t, http.StatusOK, pages.status)
	require.Equal(t, "pages/users.html", pages.name)
	data := pages.data.(listPageData)
	require.Equal(t, "novafarm", data.Query)
	require.Len(t, data.Members, 2)
	require.Equal(t, "Support Staff", data.Members[0].RoleLabel)
	require.Equal(t, "No role", data.Members[1].RoleLabel)
}

func TestHandlerListRepositoryFailure(t *testing.T) {
	repo := &stubRepo{err: errors.New("boom")}
	pages := &recordingRenderer{}
	h := NewHandler(nil, NewService(repo), pages)

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/console/users", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotEmpty(t, pages.data.(listPageData).Error)
}

func TestHandlerListUnknownRoleFilterIsBadRequest(t *testing.T) {
	repo := &stubRepo{}
	pages := &recordingRenderer{}
	h := NewHandler(nil, NewService(repo), pages)

	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/console/users?role=pharmacist", nil))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	data := pages.data.(listPageData)
	require.Equal(t, "pharmacist", data.Role)
	require.Contains(t, data.Error, "Unknown role filter")
	require.Empty(t, data.Members)
}

package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	auditmodels "gridsync/internal/audit/models"
	"gridsync/internal/grid/handler/mocks"
	"gridsync/internal/grid/models"
	"gridsync/internal/scope"
	dErrors "gridsync/pkg/domain-errors"
	"gridsync/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/grid-mocks.go -package=mocks Service

type stubValidator struct {
	claims scope.Claims
	err    error
}

func (s stubValidator) ValidateToken(string) (scope.Claims, error) {
	return s.claims, s.err
}

func districtPtr(v int64) *int64 { return &v }

var managerClaims = scope.Claims{ActorID: 42, Login: "m.ivanova", Role: "manager", DistrictID: districtPtr(3)}

type GridHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestGridHandlerSuite(t *testing.T) {
	suite.Run(t, new(GridHandlerSuite))
}

func (s *GridHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	s.service = mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.router = chi.NewRouter()
	New(s.service, stubValidator{claims: managerClaims}, logger, nil).Register(s.router)
}

func (s *GridHandlerSuite) do(req *http.Request) *http.Response {
	req.Header.Set("Authorization", "Bearer token")
	return testutil.DoRequest(s.router, req).Result()
}

func managerScope() scope.Scope {
	sc, _ := scope.Resolve(managerClaims)
	return sc
}

func (s *GridHandlerSuite) TestUpdateReturnsCommittedRow() {
	s.service.EXPECT().
		UpdateCell(gomock.Any(), managerScope(), int64(7), "amount", json.Number("2500")).
		Return(&models.Row{ID: 7, DistrictID: 3, Amount: 2500}, nil)

	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/data/update", `{"id":7,"field":"amount","value":2500}`)
	res := s.do(req)
	defer res.Body.Close()

	s.Equal(http.StatusOK, res.StatusCode)
	var row models.Row
	s.Require().NoError(json.NewDecoder(res.Body).Decode(&row))
	s.Equal(int64(7), row.ID)
	s.Equal(2500.0, row.Amount)
}

func (s *GridHandlerSuite) TestUpdateMapsDomainErrors() {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"field not editable", dErrors.New(dErrors.CodeFieldNotEditable, `field "has_error" is not editable`), http.StatusBadRequest, "field_not_editable"},
		{"row outside scope", dErrors.New(dErrors.CodeAccessDeniedOrNotFound, "row not found or not visible"), http.StatusForbidden, "access_denied_or_not_found"},
		{"store failure", dErrors.New(dErrors.CodeInternal, "failed to update cell"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.service.EXPECT().UpdateCell(gomock.Any(), gomock.Any(), int64(9), "status", "x").Return(nil, tc.err)

			rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/data/update", `{"id":9,"field":"status","value":"x"}`)))
			testutil.AssertStatusAndError(s.T(), rr, tc.status, tc.code)
		})
	}
}

func (s *GridHandlerSuite) authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer token")
	return req
}

func (s *GridHandlerSuite) TestUpdateRejectsMalformedBody() {
	rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/data/update", `{"id":`)))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/data/update", `{"id":1,"value":"x"}`)))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
}

func (s *GridHandlerSuite) TestUnauthenticatedRequestNeverReachesService() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/api/data"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
}

func (s *GridHandlerSuite) TestListRowsWithIDFilter() {
	s.service.EXPECT().
		ListRows(gomock.Any(), managerScope(), models.RowFilter{IDs: []int64{7, 8}}).
		Return([]models.Row{{ID: 7, DistrictID: 3}, {ID: 8, DistrictID: 3}}, nil)

	rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/api/data?ids=7,8")))
	testutil.AssertStatusOK(s.T(), rr)
	rows := testutil.UnmarshalResponse[[]models.Row](s.T(), rr)
	s.Len(*rows, 2)
}

func (s *GridHandlerSuite) TestListRowsRejectsBadIDs() {
	rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/api/data?ids=7,x")))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
}

func (s *GridHandlerSuite) TestStats() {
	s.service.EXPECT().Stats(gomock.Any(), managerScope()).
		Return(models.Stats{TotalRows: 2, TotalAmount: 300, CompletedCount: 1}, nil)

	rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/api/data/stats")))
	testutil.AssertStatusOK(s.T(), rr)
	st := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	s.Equal(float64(2), (*st)["total_rows"])
	s.Equal(float64(300), (*st)["total_amount"])
	s.Equal(float64(1), (*st)["completed_count"])
}

func (s *GridHandlerSuite) TestHistory() {
	s.service.EXPECT().History(gomock.Any(), managerScope(), int64(7)).
		Return([]auditmodels.Entry{{ID: 1, RecordID: 7, Changes: auditmodels.Changes{Old: "1000", New: "2500"}}}, nil)

	rr := testutil.DoRequest(s.router, s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/api/data/7/history")))
	testutil.AssertStatusOK(s.T(), rr)
	entries := testutil.UnmarshalResponse[[]map[string]any](s.T(), rr)
	s.Require().Len(*entries, 1)
	s.Equal(map[string]any{"old": "1000", "new": "2500"}, (*entries)[0]["changes"])
}

func TestParseFilter(t *testing.T) {
	f, err := parseFilter(" 3, 1 ,,2")
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, f.IDs)

	f, err = parseFilter("")
	require.NoError(t, err)
	assert.Nil(t, f.IDs)

	_, err = parseFilter("1,two")
	assert.Error(t, err)
}

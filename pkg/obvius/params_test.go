package obvius

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParamsPrecedence(t *testing.T) {
	tests := []struct {
		name  string
		route map[string]string
		body  url.Values
		query url.Values
		want  string
	}{
		{
			name:  "query only",
			query: url.Values{"mode": {"query"}},
			want:  "query",
		},
		{
			name:  "body beats query",
			body:  url.Values{"mode": {"body"}},
			query: url.Values{"mode": {"query"}},
			want:  "body",
		},
		{
			name:  "route beats body and query",
			route: map[string]string{"mode": "route"},
			body:  url.Values{"mode": {"body"}},
			query: url.Values{"mode": {"query"}},
			want:  "route",
		},
		{
			name:  "precedence ignores key case across sources",
			body:  url.Values{"MODE": {"body"}},
			query: url.Values{"mode": {"query"}},
			want:  "body",
		},
		{
			name:  "empty body value still wins",
			body:  url.Values{"Mode": {""}},
			query: url.Values{"mode": {"query"}},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParams(tt.route, tt.body, tt.query)
			got, ok := p.Get("mode")
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParamsCaseInsensitiveLookup(t *testing.T) {
	p := NewParams(nil, nil, url.Values{"SerialNumber": {"001EC6"}})

	for _, name := range []string{"serialnumber", "SERIALNUMBER", "SerialNumber", "sErIaLnUmBeR"} {
		v, ok := p.Get(name)
		assert.True(t, ok, name)
		assert.Equal(t, "001EC6", v, name)
	}
	assert.Equal(t, "fallback", p.Lookup("LOOPNAME", "fallback"))
	assert.Equal(t, "001EC6", p.Lookup("serialNumber", "fallback"))
}

func TestParamsFoldingWithinSource(t *testing.T) {
	t.Run("lower-case key wins", func(t *testing.T) {
		p := NewParams(nil, nil, url.Values{"MODE": {"upper"}, "mode": {"lower"}, "Mode": {"mixed"}})
		assert.Equal(t, "lower", p.Lookup("mode", ""))
	})
	t.Run("otherwise lexically first key wins", func(t *testing.T) {
		p := NewParams(nil, nil, url.Values{"Mode": {"mixed"}, "MODE": {"upper"}})
		assert.Equal(t, "upper", p.Lookup("mode", ""))
	})
	t.Run("first value of repeated key", func(t *testing.T) {
		p := NewParams(nil, nil, url.Values{"mode": {"STATUS", "MODE_TEST"}})
		assert.Equal(t, "STATUS", p.Lookup("mode", ""))
	})
	t.Run("key without values is absent", func(t *testing.T) {
		p := NewParams(nil, nil, url.Values{"mode": {}})
		_, ok := p.Get("mode")
		assert.False(t, ok)
	})
}

func TestParamsNames(t *testing.T) {
	p := NewParams(map[string]string{"Password": "x"}, url.Values{"MODE": {"STATUS"}}, url.Values{"uptime": {"1"}})
	assert.Equal(t, []string{"mode", "password", "uptime"}, p.Names())
	assert.Equal(t, 3, p.Len())

	var empty Params
	_, ok := empty.Get("mode")
	assert.False(t, ok)
	assert.Equal(t, 0, empty.Len())
}

func TestChiRouteParams(t *testing.T) {
	var got map[string]string
	r := chi.NewRouter()
	r.Get("/devices/{serial}/*", func(w http.ResponseWriter, r *http.Request) {
		got = ChiRouteParams(r)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices/ABC123/extra/path", nil))

	assert.Equal(t, map[string]string{"serial": "ABC123"}, got)
}

func TestChiRouteParamsWithoutRouter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, ChiRouteParams(req))
}

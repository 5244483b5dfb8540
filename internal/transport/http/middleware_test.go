package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimit_EvictsIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	set := newLimiterSet(1, 1)
	set.now = func() time.Time { return now }

	r := gin.New()
	r.Use(rateLimit(set))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":4000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	ips := make([]string, 100)
	for i := range ips {
		ips[i] = fmt.Sprintf("10.0.1.%d", i+1)
		assert.Equal(t, http.StatusNoContent, hit(ips[i]))
	}
	assert.Equal(t, 100, set.size())
	assert.Equal(t, http.StatusTooManyRequests, hit(ips[0]))

	now = now.Add(limiterIdle / 2)
	assert.Equal(t, http.StatusNoContent, hit(ips[99]))

	now = now.Add(limiterIdle/2 + time.Second)
	assert.Equal(t, http.StatusNoContent, hit("10.0.2.1"))
	assert.Equal(t, 2, set.size(), "only the recently seen client and the new one remain")
}

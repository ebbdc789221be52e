package httpserver

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	handler := http.NotFoundHandler()
	srv := New(":8080", handler)

	assert.Equal(t, ":8080", srv.Addr)
	assert.NotNil(t, srv.Handler)
	assert.Equal(t, readHeaderTimeout, srv.ReadHeaderTimeout)
	assert.Equal(t, writeTimeout, srv.WriteTimeout)
	assert.Positive(t, srv.IdleTimeout)
}

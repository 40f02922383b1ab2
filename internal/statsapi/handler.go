package statsapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Request limits for POST bodies.
const (
	maxBody   = 64 << 10
	maxKeys   = 64
	maxKeyLen = 64
)

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/latest", h.Latest)
	g.POST("", h.Add)
}

// NewEcho creates the service's echo instance with request logging,
// panic recovery and open CORS.
func NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	return e
}

func flatList(snaps []*Snapshot) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.Flat())
	}
	return out
}

// List returns every snapshot oldest first; ?limit=N keeps the newest N.
func (h *Handler) List(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	snaps, err := h.store.List(c.Request().Context(), limit)
	if err != nil {
		c.Logger().Errorf("list stats: %v", err)
		return echo.NewHTTPError(http.StatusBadRequest, "Error getting stats")
	}
	return c.JSON(http.StatusOK, flatList(snaps))
}

// Latest returns the most recent snapshot.
func (h *Handler) Latest(c echo.Context) error {
	snap, err := h.store.Latest(c.Request().Context())
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no stats yet")
	}
	if err != nil {
		c.Logger().Errorf("latest stats: %v", err)
		return echo.NewHTTPError(http.StatusBadRequest, "Error getting stats")
	}
	return c.JSON(http.StatusOK, snap.Flat())
}

// Add stores a flat object of non-negative integer counts and returns it with 201.
func (h *Handler) Add(c echo.Context) error {
	counts, err := decodeCounts(c.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Error adding stats. "+err.Error())
	}
	snap, err := h.store.Add(c.Request().Context(), counts)
	if err != nil {
		c.Logger().Errorf("add stats: %v", err)
		return echo.NewHTTPError(http.StatusBadRequest, "Error adding stats.")
	}
	return c.JSON(http.StatusCreated, snap.Flat())
}

// decodeCounts reads a JSON object whose non-reserved fields are non-negative integers.
func decodeCounts(r *http.Request) (map[string]int, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("body must be a JSON object: %w", err)
	}
	if raw == nil {
		return nil, errors.New("body must be a JSON object")
	}

	counts := make(map[string]int, len(raw))
	for k, v := range raw {
		if reserved(k) {
			continue
		}
		if k == "" || len(k) > maxKeyLen {
			return nil, fmt.Errorf("invalid key %q", k)
		}
		num, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%s must be a number", k)
		}
		n, err := num.Int64()
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", k)
		}
		counts[k] = int(n)
	}
	if len(counts) == 0 {
		return nil, errors.New("no counts")
	}
	if len(counts) > maxKeys {
		return nil, fmt.Errorf("too many keys (%d > %d)", len(counts), maxKeys)
	}
	return counts, nil
}

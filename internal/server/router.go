package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mosaicworks/signon/internal/auth"
	"github.com/mosaicworks/signon/internal/metrics"
	"github.com/mosaicworks/signon/internal/queue"
	"github.com/mosaicworks/signon/internal/users"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Caller-facing message set. Internal failure detail stays in the logs; the
// response body never carries storage or provider specifics.
const (
	messageMissingToken  = "Missing idToken in request body"
	messageUserExists    = "User already exists"
	messageInternalError = "Internal server error"
	messageRegistered    = "User registered successfully"
)

var (
	errMissingGoogleVerifier = errors.New("google verifier dependency required")
	errMissingUserDirectory  = errors.New("user directory dependency required")
)

// GoogleVerifier validates a raw ID token and extracts the identity claim.
type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

// UserDirectory resolves and provisions users keyed by external subject.
type UserDirectory interface {
	FindBySubject(ctx context.Context, subject string) (*users.UserRecord, error)
	Create(ctx context.Context, claim auth.GoogleClaims) (users.CreatedUser, error)
}

// Dependencies wires the collaborators required by the HTTP layer.
type Dependencies struct {
	GoogleVerifier GoogleVerifier
	Directory      UserDirectory
	Events         queue.Publisher
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router serving the registration API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GoogleVerifier == nil {
		return nil, errMissingGoogleVerifier
	}
	if deps.Directory == nil {
		return nil, errMissingUserDirectory
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := deps.Events
	if events == nil {
		events = queue.NewNoop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	router.Use(recordRequestMetrics)

	handler := &httpHandler{
		verifier:  deps.GoogleVerifier,
		directory: deps.Directory,
		events:    events,
		logger:    logger,
	}

	router.POST("/register/google", handler.handleGoogleRegister)
	router.GET("/healthz", handler.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router, nil
}

type httpHandler struct {
	verifier  GoogleVerifier
	directory UserDirectory
	events    queue.Publisher
	logger    *zap.Logger
}

type registerRequestPayload struct {
	IDToken string `json:"idToken"`
}

type registeredUserPayload struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type registerResponsePayload struct {
	Message string                `json:"message"`
	User    registeredUserPayload `json:"user"`
}

// handleGoogleRegister runs the registration sequence: parse, verify, check
// for an existing user, create. Every internal failure collapses to the same
// generic response; the cause is logged where it happened.
func (h *httpHandler) handleGoogleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": messageMissingToken})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		metrics.RegistrationsTotal.WithLabelValues("failed").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": messageInternalError})
		return
	}

	existing, err := h.directory.FindBySubject(c.Request.Context(), claims.Subject)
	if err != nil {
		h.logger.Error("subject lookup failed", zap.Error(err))
		metrics.RegistrationsTotal.WithLabelValues("failed").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": messageInternalError})
		return
	}
	if existing != nil {
		metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": messageUserExists})
		return
	}

	created, err := h.directory.Create(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, users.ErrSubjectTaken) {
			// Lost the race against a concurrent registration for the
			// same subject; report it like any other duplicate.
			h.logger.Warn("concurrent registration detected", zap.String("subject", claims.Subject))
			metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
			c.JSON(http.StatusConflict, gin.H{"error": messageUserExists})
			return
		}
		h.logger.Error("user creation failed", zap.Error(err))
		metrics.RegistrationsTotal.WithLabelValues("failed").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": messageInternalError})
		return
	}

	h.publishRegistered(created, claims.Email)
	metrics.RegistrationsTotal.WithLabelValues("registered").Inc()

	c.JSON(http.StatusCreated, registerResponsePayload{
		Message: messageRegistered,
		User: registeredUserPayload{
			UserID:    created.UserID,
			Email:     claims.Email,
			CreatedAt: created.CreatedAt,
		},
	})
}

// publishRegistered emits the registration event off the request path. A
// publish failure is logged and never affects the HTTP response.
func (h *httpHandler) publishRegistered(created users.CreatedUser, email string) {
	event := queue.UserRegistered{
		UserID:    created.UserID,
		Email:     email,
		CreatedAt: created.CreatedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := h.events.Publish(ctx, queue.RoutingKeyUserRegistered, event); err != nil {
			h.logger.Warn("user registered event publish failed", zap.Error(err))
		}
	}()
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func recordRequestMetrics(c *gin.Context) {
	start := time.Now()
	metrics.InFlight.Inc()
	c.Next()
	metrics.InFlight.Dec()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	metrics.RequestsTotal.
		WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).
		Inc()
	metrics.ReqDuration.
		WithLabelValues(route, c.Request.Method).
		Observe(time.Since(start).Seconds())
}

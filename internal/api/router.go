package api

import (
	"net/http"
	"time"

	"contest_judge/internal/api/handler"
	"contest_judge/internal/api/middleware"
	"contest_judge/internal/app/service"
	"contest_judge/internal/common"
	"contest_judge/internal/common/security"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/sirupsen/logrus"
)

// Services are the collaborators the HTTP layer is built from.
type Services struct {
	Callbacks   *service.CallbackService
	Evaluations *service.EvaluationService
	Submissions *service.SubmissionService
	Leaderboard *service.LeaderboardService
	History     *service.HistoryService
	Cdks        *service.CdkService
	Jobs        handler.JobAdmin
	Blobs       handler.BlobReader
}

func NewRouter(svc Services, tokens *security.Tokens, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Verifier only parses the bearer token; routes that need it add Authenticator.
	r.Use(jwtauth.Verifier(tokens.JWTAuth()))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		common.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Judges download archives through the blob store's public URL.
	r.Route("/blobs", handler.NewBlobHandler(svc.Blobs).RegisterRoutes)

	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Route("/evaluate", handler.NewCallbackHandler(svc.Callbacks, log).RegisterRoutes)

		v1.Route("/competitions/{competitionID}", func(cr chi.Router) {
			handler.NewLeaderboardHandler(svc.Leaderboard, svc.History).RegisterRoutes(cr)
			cr.Group(handler.NewSubmissionHandler(svc.Submissions).RegisterRoutes)
			cr.Group(handler.NewCdkHandler(svc.Cdks).RegisterRoutes)
		})

		v1.Route("/admin", handler.NewAdminHandler(svc.Evaluations, svc.History, svc.Cdks, svc.Jobs, log).RegisterRoutes)
	})

	return r
}

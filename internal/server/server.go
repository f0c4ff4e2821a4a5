package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"khyanalt/internal/aggregate"
	"khyanalt/internal/config"
	"khyanalt/internal/imaging"
	"khyanalt/internal/logging"
	"khyanalt/internal/mailer"
	"khyanalt/internal/report"
	"khyanalt/internal/store"
)

// Server wires the HTTP surface over the core components.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	engine   *aggregate.Engine
	files    *imaging.FileStore
	composer *report.Composer
	notifier *mailer.Notifier
	tokens   *TokenIssuer
}

// New assembles a server from its collaborators.
func New(cfg *config.Config, st *store.Store, engine *aggregate.Engine,
	files *imaging.FileStore, composer *report.Composer, notifier *mailer.Notifier) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		engine:   engine,
		files:    files,
		composer: composer,
		notifier: notifier,
		tokens:   NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Route("/inspections", func(r chi.Router) {
				r.Get("/", s.handleListInspections)
				r.Post("/", s.handleCreateInspection)
				r.Post("/section-answers", s.handleSectionAnswers)
				r.Get("/by-schedule-type/{scheduleType}", s.handleListByScheduleType)

				r.Route("/{inspectionID}", func(r chi.Router) {
					r.Get("/", s.handleGetInspection)
					r.Delete("/", s.handleDeleteInspection)
					r.Put("/assign", s.handleAssignInspection)
					r.Post("/question-images", s.handleUploadBase64Images)
					r.Post("/upload-images", s.handleUploadMultipartImages)
					r.Get("/question-images", s.handleListQuestionImages)
					r.Get("/image-gallery", s.handleImageGallery)
					r.Post("/signature-image", s.handleSignatureImage)
				})
			})

			r.Get("/documents/answers/{answerID}/docx", s.handleAnswerDocx)
		})
	})

	// Uploaded photographs are served read-only under the public prefix.
	r.Handle("/"+s.cfg.PublicURLPrefix+"/*",
		http.StripPrefix("/"+s.cfg.PublicURLPrefix+"/",
			http.FileServer(http.Dir(s.cfg.StoragePath))))

	return r
}

// requestLogger writes one line per request to the http category.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Get(logging.CategoryHTTP).Infof("%s %s -> %d (%v)",
			r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

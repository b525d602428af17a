package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/policyscope/impact-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve computed impact records over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env.Store),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the read-only API over the store.
func newRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/reforms", handleListReforms(st))
	r.Get("/reforms/{id}", handleGetReform(st))
	r.Get("/reforms/{id}/impacts", handleGetImpacts(st))
	r.Get("/reforms/{id}/impacts/{year}/districts/{districtID}", handleGetDistrict(st))

	return r
}

func handleListReforms(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reforms, err := st.ListReforms(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, reforms)
	}
}

func handleGetReform(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reform, err := st.GetReform(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, reform)
	}
}

func handleGetImpacts(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		archive, err := st.GetImpacts(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if len(archive) == 0 {
			writeError(w, http.StatusNotFound, eris.Errorf("no impacts for reform %s", id))
			return
		}
		writeJSON(w, http.StatusOK, archive)
	}
}

func handleGetDistrict(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, err := strconv.Atoi(chi.URLParam(r, "year"))
		if err != nil {
			writeError(w, http.StatusBadRequest, eris.New("year must be an integer"))
			return
		}

		id := chi.URLParam(r, "id")
		districtID := chi.URLParam(r, "districtID")
		d, err := st.GetDistrictImpact(r.Context(), id, year, districtID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if d == nil {
			writeError(w, http.StatusNotFound,
				eris.Errorf("no district impact for %s/%d/%s", id, year, districtID))
			return
		}
		writeJSON(w, http.StatusOK, d.Rounded())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

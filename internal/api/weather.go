package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"kisan-backend/internal/advisory"
	"kisan-backend/internal/domain"
	"kisan-backend/internal/weather"
)

// weatherQuery reads lat/lon or place. Authenticated callers with neither
// fall back to their profile's district and state.
func (s *Server) weatherQuery(r *http.Request, profile *domain.User) (weather.Query, error) {
	lat, hasLat, err := queryFloat(r, "lat")
	if err != nil {
		return weather.Query{}, err
	}
	lon, hasLon, err := queryFloat(r, "lon")
	if err != nil {
		return weather.Query{}, err
	}
	q := weather.Query{Place: strings.TrimSpace(r.URL.Query().Get("place"))}
	if hasLat && hasLon {
		q.Lat, q.Lon = lat, lon
	}
	if q.Place == "" && !(hasLat && hasLon) && profile != nil {
		if parts := splitList(profile.District + "," + profile.State); len(parts) > 0 {
			q.Place = strings.Join(append(parts, "IN"), ",")
		}
	}
	return q, nil
}

func (s *Server) handleCurrentWeather(w http.ResponseWriter, r *http.Request) {
	var profile *domain.User
	if a := caller(r); a.ID != 0 {
		if u, err := s.store.GetUser(r.Context(), a.ID); err == nil {
			profile = &u
		}
	}
	q, err := s.weatherQuery(r, profile)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reading, err := s.weather.Current(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, map[string]interface{}{
		"reading": reading,
		"risks":   advisory.CalculateRisks(reading),
	})
}

// handleWeatherAlerts generates alerts for the caller's crops and stores them
func (s *Server) handleWeatherAlerts(w http.ResponseWriter, r *http.Request) {
	actor := caller(r)
	u, err := s.store.GetUser(r.Context(), actor.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	crops := splitList(r.URL.Query().Get("crops"))
	if len(crops) == 0 {
		crops = u.Crops
	}
	if len(crops) == 0 {
		var v domain.Validator
		v.Add("crops", "pass crops= or add crops to your profile")
		s.fail(w, r, v.Err())
		return
	}

	q, err := s.weatherQuery(r, &u)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reading, err := s.weather.Current(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	alerts := advisory.GenerateCropAlerts(reading, crops)
	if err := s.store.SaveAlerts(r.Context(), actor.ID, alerts); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(alerts) > 0 {
		s.logger.Info("weather alerts generated", zap.Int64("user_id", actor.ID), zap.Int("count", len(alerts)))
	}
	ok(w, http.StatusOK, map[string]interface{}{
		"reading": reading,
		"risks":   advisory.CalculateRisks(reading),
		"alerts":  alerts,
	})
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	alerts, err := s.store.ListAlerts(r.Context(), caller(r).ID, r.URL.Query().Get("unacknowledged") == "true", page.Limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, alerts)
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.AcknowledgeAlert(r.Context(), caller(r).ID, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Alert acknowledged",
	})
}

/*
seed.go - Demo data loader for testing and demonstrations

PURPOSE:
  Populates the store with a realistic shop setup: weekday working
  hours, a small service catalog, and a couple of customers. Gives a
  fresh instance something to book against without hand-crafted curl
  calls.

USAGE VIA API:
  POST /api/admin/seed

NOTE:
  Seeding upserts; it does not reset existing reservations. Only use in
  development/demo environments.
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/schedule"
)

// LoadSeed populates working hours, services, and demo customers.
// POST /api/admin/seed
func (h *Handler) LoadSeed(w http.ResponseWriter, r *http.Request) {
	if err := h.seed(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to seed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seeded"})
}

func (h *Handler) seed(ctx context.Context) error {
	open, _ := schedule.ParseTimeOfDay("09:00")
	close, _ := schedule.ParseTimeOfDay("18:00")
	satClose, _ := schedule.ParseTimeOfDay("14:00")

	for day := time.Monday; day <= time.Friday; day++ {
		wh := schedule.WorkingHours{Weekday: day, Open: open, Close: close}
		if err := h.Schedule.UpsertWorkingHours(ctx, wh); err != nil {
			return err
		}
	}
	if err := h.Schedule.UpsertWorkingHours(ctx, schedule.WorkingHours{
		Weekday: time.Saturday, Open: open, Close: satClose,
	}); err != nil {
		return err
	}
	if err := h.Schedule.UpsertWorkingHours(ctx, schedule.WorkingHours{
		Weekday: time.Sunday, Closed: true,
	}); err != nil {
		return err
	}

	services := []booking.ServiceItem{
		{
			ID:            "cut-classic",
			Name:          "Classic Cut",
			Duration:      30 * time.Minute,
			Price:         booking.NewMoneyFromCents(2500, "EUR"),
			LoyaltyPoints: 25,
			Active:        true,
		},
		{
			ID:            "cut-color",
			Name:          "Cut & Color",
			Duration:      90 * time.Minute,
			Price:         booking.NewMoneyFromCents(8500, "EUR"),
			LoyaltyPoints: 85,
			Active:        true,
		},
		{
			ID:            "beard-trim",
			Name:          "Beard Trim",
			Duration:      15 * time.Minute,
			Price:         booking.NewMoneyFromCents(1200, "EUR"),
			LoyaltyPoints: 12,
			Active:        true,
		},
	}
	for _, item := range services {
		if err := h.Catalog.SaveServiceItem(ctx, item); err != nil {
			return err
		}
	}

	customers := []booking.Customer{
		{ID: "cust-ada", Name: "Ada Lovelace", Email: "ada@example.com"},
		{ID: "cust-alan", Name: "Alan Turing", Email: "alan@example.com"},
	}
	for _, c := range customers {
		if err := h.Customers.SaveCustomer(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

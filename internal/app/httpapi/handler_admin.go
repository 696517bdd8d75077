package httpapi

import (
	"net/http"

	"github.com/vaultline/ledger/internal/app/services/payouts"
	"github.com/vaultline/ledger/internal/httputil"
)

type payoutRunResponse struct {
	Ran    bool                `json:"ran"`
	Result payouts.SweepResult `json:"result"`
}

func (h *handler) runPayouts(w http.ResponseWriter, r *http.Request) {
	result, ran, err := h.app.RunPayoutSweep(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if !ran {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, payoutRunResponse{Ran: ran, Result: result})
}

package main

import "time"

// handleSubmit validates the connection state and queues the share. It
// returns false when the request is malformed enough to drop the client.
func (mc *MinerConn) handleSubmit(req *StratumRequest) bool {
	if req.Params == nil {
		stratumLog.Warn("malformed message", "client", mc.Label(), "method", req.Method)
		return false
	}
	if !mc.Authorized() {
		mc.writeResponse(StratumResponse{ID: req.ID, Result: nil, Error: newStratumError(errCodeUnauthorized, "unauthorized worker")})
		return true
	}
	if mc.ExtraNonce1() == "" {
		mc.writeResponse(StratumResponse{ID: req.ID, Result: nil, Error: newStratumError(errCodeNotSubscribed, "not subscribed")})
		return true
	}

	sub, ok := parseSubmitParams(req.Params)
	if !ok {
		mc.writeResponse(StratumResponse{ID: req.ID, Result: nil, Error: newStratumError(errCodeOther, "invalid submit parameters")})
		return true
	}

	ensureSubmissionWorkerPool()
	submissionWorkers.submit(submissionTask{
		mc:         mc,
		reqID:      req.ID,
		req:        sub,
		receivedAt: mc.now(),
	})
	return true
}

// parseSubmitParams reads [worker, job_id, ntime, extranonce2, solution].
func parseSubmitParams(params []any) (submitRequest, bool) {
	if len(params) < 5 {
		return submitRequest{}, false
	}
	var out submitRequest
	var ok bool
	if out.Worker, ok = paramString(params, 0); !ok {
		return submitRequest{}, false
	}
	if out.JobID, ok = paramString(params, 1); !ok || len(out.JobID) > maxJobIDLen {
		return submitRequest{}, false
	}
	if out.NTime, ok = paramString(params, 2); !ok {
		return submitRequest{}, false
	}
	if out.ExtraNonce2, ok = paramString(params, 3); !ok {
		return submitRequest{}, false
	}
	if out.Solution, ok = paramString(params, 4); !ok {
		return submitRequest{}, false
	}
	return out, true
}

func (mc *MinerConn) processSubmissionTask(t submissionTask) {
	res := mc.handler.submit(mc, t.req)
	mc.recordShare(res.Error == nil)

	var errField any
	var result any
	if res.Error != nil {
		errField = res.Error.wire()
	} else {
		result = res.Result
	}
	mc.writeResponse(StratumResponse{ID: t.reqID, Result: result, Error: errField})
	if debugLogging {
		stratumLog.Debug("submit processed", "client", mc.Label(), "elapsed", time.Since(t.receivedAt))
	}
}

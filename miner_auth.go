package main

func (mc *MinerConn) handleSubscribe(req *StratumRequest) {
	extraNonce1, err := mc.handler.subscribe(mc)
	if err != nil {
		mc.writeResponse(StratumResponse{ID: req.ID, Result: nil, Error: newStratumError(errCodeOther, err.Error())})
		return
	}
	mc.stateMu.Lock()
	mc.extraNonce1 = extraNonce1
	mc.stateMu.Unlock()

	mc.writeResponse(StratumResponse{
		ID:     req.ID,
		Result: []any{nil, extraNonce1},
		Error:  nil,
	})
	mc.handler.subscribed(mc)
}

// handleAuthorize returns false when the connection must be closed.
func (mc *MinerConn) handleAuthorize(req *StratumRequest) bool {
	if req.Params == nil {
		stratumLog.Warn("malformed message", "client", mc.Label(), "method", req.Method)
		return false
	}
	worker, _ := paramString(req.Params, 0)
	pass, _ := paramString(req.Params, 1)
	if len(worker) > maxWorkerNameLen {
		worker = worker[:maxWorkerNameLen]
	}

	mc.stateMu.Lock()
	mc.workerName = worker
	mc.workerPass = pass
	mc.stateMu.Unlock()

	res := mc.handler.authorize(mc, worker, pass)
	authorized := res.Error == nil && res.Authorized

	mc.stateMu.Lock()
	mc.authorized = authorized
	mc.stateMu.Unlock()

	mc.writeResponse(StratumResponse{ID: req.ID, Result: authorized, Error: res.Error})
	return !res.Disconnect
}

package main

import "time"

const (
	poolSoftwareName = "equipool"

	// Stratum lines longer than this without a newline are treated as a
	// flood and the socket is dropped.
	maxStratumMessageSize = 10 * 1024
	stratumWriteTimeout   = 60 * time.Second
	// stratumReadPoll bounds a single blocking read so shutdown and idle
	// checks run even on silent sockets.
	stratumReadPoll = 30 * time.Second
	// proxyHeaderTimeout bounds how long a PROXY protocol header may take.
	proxyHeaderTimeout = 10 * time.Second

	// subscriptionIDPrefix leads every Stratum subscription id.
	subscriptionIDPrefix = "deadbeefcafebabe"

	maxWorkerNameLen = 256
	maxJobIDLen      = 64

	syncRetryInterval         = 5 * time.Second
	coinbaseTxnRetryInterval  = time.Second
	pendingSubmissionInterval = 5 * time.Second
	blockConfirmTimeout       = 30 * time.Second
	shutdownDrainTimeout      = 10 * time.Second

	// rpcGetBlockTemplateSyncing is returned by getblocktemplate while the
	// daemon is still downloading blocks.
	rpcGetBlockTemplateSyncing = -10
)

package metrics

// Operation names recorded through a Recorder.
const (
	// OpSignup is account registration.
	OpSignup = "signup"
	// OpVerify is email verification with an OTP.
	OpVerify = "verify"
	// OpLogin is password authentication.
	OpLogin = "login"
	// OpForgotPassword is a reset code request.
	OpForgotPassword = "forgot_password"
	// OpResetPassword is a password reset with a reset code.
	OpResetPassword = "reset_password"
	// OpPredict is one upload classified end to end.
	OpPredict = "predict"
	// OpHistory is a prediction history read.
	OpHistory = "history"
	// OpNotify is one email delivery attempt.
	OpNotify = "notify"
	// OpSeed is a knowledge base import.
	OpSeed = "seed"
	// OpBackup is one backup run across all targets.
	OpBackup = "backup"
)

// Operation statuses.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// Prediction outcomes, recorded as the status of OpPredict.
const (
	OutcomeUnknown     = "unknown"
	OutcomeUnsure      = "unsure"
	OutcomeIdentified  = "identified"
	OutcomeNoKnowledge = "no_knowledge"
)

var (
	// inferenceBuckets span 1ms to about 4s.
	inferenceBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4}

	// operationBuckets cover bcrypt hashing and remote email APIs.
	operationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15}
)

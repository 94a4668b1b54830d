package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden          ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly  ErrCode = "STUDENT_ACCESS_ONLY"
	ErrInvigilatorOnly    ErrCode = "INVIGILATOR_ACCESS_ONLY"
	ErrNotExamParticipant ErrCode = "NOT_EXAM_PARTICIPANT"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidSignal  ErrCode = "INVALID_SIGNAL"
	ErrInvalidAnswer  ErrCode = "INVALID_ANSWER"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound      ErrCode = "NOT_FOUND"
	ErrStateConflict ErrCode = "STATE_CONFLICT"

	// ─── Exam attempt ──────────────────────────────────────────────────
	ErrExamNotOngoing     ErrCode = "EXAM_NOT_ONGOING"
	ErrJoinNotApproved    ErrCode = "JOIN_NOT_APPROVED"
	ErrAttemptNotStarted  ErrCode = "ATTEMPT_NOT_STARTED"
	ErrAlreadySubmitted   ErrCode = "ALREADY_SUBMITTED"
	ErrCountdownActive    ErrCode = "COUNTDOWN_ACTIVE"
	ErrResultNotAvailable ErrCode = "RESULT_NOT_AVAILABLE"

	// ─── Proctoring ────────────────────────────────────────────────────
	ErrStaleConnection ErrCode = "STALE_CONNECTION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrInvigilatorOnly:
		return "Sumber daya ini terbatas untuk pengawas ujian."
	case ErrNotExamParticipant:
		return "Anda bukan peserta atau pengawas ujian ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidSignal:
		return "Sinyal tidak valid."
	case ErrInvalidAnswer:
		return "Jawaban tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrStateConflict:
		return "Permintaan bertentangan dengan status saat ini."

	// ─── Exam attempt ──────────────────────────────────────────────────
	case ErrExamNotOngoing:
		return "Ujian ini sedang tidak berlangsung."
	case ErrJoinNotApproved:
		return "Permintaan bergabung Anda belum disetujui pengawas."
	case ErrAttemptNotStarted:
		return "Ujian belum dimulai."
	case ErrAlreadySubmitted:
		return "Ujian sudah dikumpulkan."
	case ErrCountdownActive:
		return "Waktu ujian belum habis."
	case ErrResultNotAvailable:
		return "Hasil ujian belum tersedia."

	// ─── Proctoring ────────────────────────────────────────────────────
	case ErrStaleConnection:
		return "Koneksi pengawasan sudah digantikan oleh koneksi baru."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}

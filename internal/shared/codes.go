package shared

// TransactionCode identifies a bookable transaction type towards the
// external ledger authority.
type TransactionCode string

// Base and correction codes recognised by the ledger authority.
const (
	CodeAdvance        TransactionCode = "A1"
	CodeAdvanceCorr    TransactionCode = "A3"
	CodeMaintenance    TransactionCode = "B1"
	CodeMaintenanceCor TransactionCode = "B3"
	CodeReimbursement  TransactionCode = "D1"
	CodeReimburseCorr  TransactionCode = "D3"
	CodeFeePayer       TransactionCode = "G1"
	CodeFeePayerCorr   TransactionCode = "G3"
	CodeFeePayee       TransactionCode = "H1"
	CodeFeePayeeCorr   TransactionCode = "H3"
	CodeWriteOff       TransactionCode = "K1"
)

type codeInfo struct {
	correction   TransactionCode
	reversesSign bool
}

// codeTable is the static transaction code registry. Correction codes
// carry no further correction: reporting a correction is final.
var codeTable = map[TransactionCode]codeInfo{
	CodeAdvance:        {correction: CodeAdvanceCorr},
	CodeAdvanceCorr:    {reversesSign: true},
	CodeMaintenance:    {correction: CodeMaintenanceCor},
	CodeMaintenanceCor: {reversesSign: true},
	CodeReimbursement:  {correction: CodeReimburseCorr},
	CodeReimburseCorr:  {reversesSign: true},
	CodeFeePayer:       {correction: CodeFeePayerCorr},
	CodeFeePayerCorr:   {reversesSign: true},
	CodeFeePayee:       {correction: CodeFeePayeeCorr},
	CodeFeePayeeCorr:   {reversesSign: true},
	CodeWriteOff:       {},
}

// CorrectionCode returns the correction counterpart for a code, or
// false when the code cannot be corrected.
func CorrectionCode(c TransactionCode) (TransactionCode, bool) {
	info, ok := codeTable[c]
	if !ok || info.correction == "" {
		return "", false
	}
	return info.correction, true
}

// ReversesSign reports whether submitted amounts for this code must be
// sign-flipped before transmission.
func ReversesSign(c TransactionCode) bool {
	return codeTable[c].reversesSign
}

// IsCorrectionCode reports whether c is the correction counterpart of
// some base code.
func IsCorrectionCode(c TransactionCode) bool {
	for _, info := range codeTable {
		if info.correction == c {
			return true
		}
	}
	return false
}

// ObligationType categorises what an order obliges the payer to pay.
type ObligationType string

const (
	ObligationMaintenance   ObligationType = "MAINTENANCE"
	ObligationAdvance       ObligationType = "ADVANCE"
	ObligationReimbursement ObligationType = "REIMBURSEMENT"
	ObligationFeePayer      ObligationType = "FEE_PAYER"
	ObligationFeePayee      ObligationType = "FEE_PAYEE"
)

// BaseCode maps an obligation type to the transaction code its
// bookings are reported under.
func BaseCode(t ObligationType) TransactionCode {
	switch t {
	case ObligationAdvance:
		return CodeAdvance
	case ObligationReimbursement:
		return CodeReimbursement
	case ObligationFeePayer:
		return CodeFeePayer
	case ObligationFeePayee:
		return CodeFeePayee
	default:
		return CodeMaintenance
	}
}

// ApplicationType qualifies what a booking applies to within its
// transaction code.
type ApplicationType string

const (
	ApplicationDefault  ApplicationType = "STANDARD"
	ApplicationIndexReg ApplicationType = "INDEX_REGULATION"
	ApplicationFeePayer ApplicationType = "FEE_PAYER"
	ApplicationFeePayee ApplicationType = "FEE_PAYEE"
)

// IsFeeApplication reports whether the application type marks a fee.
// Fees are corrected wholesale on any amendment.
func IsFeeApplication(a ApplicationType) bool {
	return a == ApplicationFeePayer || a == ApplicationFeePayee
}

package payroll

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/shared"
)

// csvHeader is the manifest layout shared by export and import.
var csvHeader = []string{"benefit_id", "code", "recipient_type", "recipient_id", "amount", "status", "receipt"}

// FileStore keeps uploaded reconciliation files on disk, one directory per
// payroll. Saving a name that already exists is a conflict; reconciliation
// files are immutable evidence.
type FileStore struct {
	root string
}

// NewFileStore constructs a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Save writes the file under root/payroll_<id>/<name>.
func (f *FileStore) Save(payrollID uuid.UUID, name string, content []byte) error {
	name = filepath.Base(name)
	dir := filepath.Join(f.root, "payroll_"+payrollID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reconciliation store: %w", err)
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file %q already uploaded for payroll %s: %w", name, payrollID, httpx.ErrConflict)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("reconciliation store: %w", err)
	}
	return nil
}

// Exists reports whether a file of this name was already stored for the payroll.
func (f *FileStore) Exists(payrollID uuid.UUID, name string) bool {
	_, err := os.Stat(filepath.Join(f.root, "payroll_"+payrollID.String(), filepath.Base(name)))
	return err == nil
}

// List returns the names of files uploaded for a payroll.
func (f *FileStore) List(payrollID uuid.UUID) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, "payroll_"+payrollID.String()))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconciliation store: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Reconciler drives offline settlement: operators export the benefit manifest
// as CSV, fill in receipts out of band, and upload the result.
type Reconciler struct {
	repo   Repository
	store  *FileStore
	logger *slog.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(repo Repository, store *FileStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{repo: repo, store: store, logger: logger}
}

// Export writes the payroll's benefit manifest as CSV.
func (r *Reconciler) Export(ctx context.Context, payrollID uuid.UUID, w io.Writer) error {
	if _, err := r.repo.GetPayroll(ctx, payrollID); err != nil {
		return err
	}
	benefits, err := r.repo.ListBenefitsByPayroll(ctx, payrollID)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("reconciliation: write csv: %w", err)
	}
	for _, b := range benefits {
		record := []string{
			b.ID.String(),
			b.Code,
			b.RecipientType,
			b.RecipientID.String(),
			b.Amount.String(),
			string(b.Status),
			b.Receipt,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("reconciliation: write csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ImportSummary reports one processed upload.
type ImportSummary struct {
	FileName   string `json:"file_name"`
	Rows       int    `json:"rows"`
	Reconciled int    `json:"reconciled"`
	Skipped    int    `json:"skipped"`
}

// Import settles every row of the uploaded CSV carrying a receipt: the
// benefit gets the receipt and moves to RECONCILED. Rows without a receipt,
// or whose benefit cannot take the transition, are skipped. The upload is
// rejected outright when a file of the same name was already processed for
// the payroll, and is stored only after it settles, so a rejected file can
// be corrected and re-uploaded under the same name.
func (r *Reconciler) Import(ctx context.Context, payrollID uuid.UUID, fileName string, content []byte) (ImportSummary, error) {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return ImportSummary{}, httpx.ErrUnauthorized
	}
	if _, err := r.repo.GetPayroll(ctx, payrollID); err != nil {
		return ImportSummary{}, err
	}
	if r.store.Exists(payrollID, fileName) {
		return ImportSummary{}, fmt.Errorf("file %q already uploaded for payroll %s: %w", filepath.Base(fileName), payrollID, httpx.ErrConflict)
	}

	records, err := csv.NewReader(strings.NewReader(string(content))).ReadAll()
	if err != nil {
		return ImportSummary{}, fmt.Errorf("reconciliation: parse csv: %v: %w", err, httpx.ErrValidation)
	}
	if len(records) == 0 {
		return ImportSummary{}, fmt.Errorf("reconciliation: empty file: %w", httpx.ErrValidation)
	}
	col := columnIndex(records[0])
	if col.benefitID < 0 || col.receipt < 0 {
		return ImportSummary{}, fmt.Errorf("reconciliation: header must include benefit_id and receipt: %w", httpx.ErrValidation)
	}

	summary := ImportSummary{FileName: filepath.Base(fileName), Rows: len(records) - 1}
	err = r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, record := range records[1:] {
			if len(record) <= col.benefitID || len(record) <= col.receipt {
				summary.Skipped++
				continue
			}
			receipt := strings.TrimSpace(record[col.receipt])
			if receipt == "" {
				summary.Skipped++
				continue
			}
			benefitID, err := uuid.Parse(strings.TrimSpace(record[col.benefitID]))
			if err != nil {
				summary.Skipped++
				continue
			}
			b, err := tx.GetBenefit(ctx, benefitID)
			if err != nil {
				summary.Skipped++
				continue
			}
			if !b.Status.CanTransition(BenefitReconciled) {
				summary.Skipped++
				continue
			}
			updated, err := tx.UpdateBenefitReceipt(ctx, b.ID, receipt, b.Status, BenefitReconciled)
			if err != nil {
				return err
			}
			if !updated {
				summary.Skipped++
				continue
			}
			summary.Reconciled++
		}
		return nil
	})
	if err != nil {
		return ImportSummary{}, err
	}
	if err := r.store.Save(payrollID, fileName, content); err != nil {
		return ImportSummary{}, err
	}
	r.logger.Info("reconciliation file processed",
		slog.String("payroll_id", payrollID.String()),
		slog.String("file", summary.FileName),
		slog.Int("reconciled", summary.Reconciled),
		slog.Int("skipped", summary.Skipped))
	return summary, nil
}

type columns struct {
	benefitID int
	receipt   int
}

func columnIndex(header []string) columns {
	col := columns{benefitID: -1, receipt: -1}
	for i, name := range header {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "benefit_id":
			col.benefitID = i
		case "receipt":
			col.receipt = i
		}
	}
	return col
}

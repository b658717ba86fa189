package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

const (
	ExportCSV     = "csv"
	ExportParquet = "parquet"
)

var csvHeader = []string{
	"receipt_id", "operation", "mint", "account", "price", "amount_in", "amount_out", "bootstrap", "created_at",
}

type parquetReceipt struct {
	ReceiptID string `parquet:"name=receipt_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Operation string `parquet:"name=operation, type=BYTE_ARRAY, convertedtype=UTF8"`
	Mint      string `parquet:"name=mint, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account   string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	// Amounts keep full unsigned 64-bit precision as decimal text.
	Price     string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountIn  string `parquet:"name=amount_in, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountOut string `parquet:"name=amount_out, type=BYTE_ARRAY, convertedtype=UTF8"`
	Bootstrap bool   `parquet:"name=bootstrap, type=BOOLEAN"`
	CreatedAt string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteReceipts renders receipts in the requested export format.
func WriteReceipts(w io.Writer, format string, receipts []Receipt) error {
	switch format {
	case ExportCSV:
		return writeCSV(w, receipts)
	case ExportParquet:
		return writeParquet(w, receipts)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func writeCSV(w io.Writer, receipts []Receipt) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	for _, rec := range receipts {
		record := []string{
			rec.ID,
			rec.Operation,
			rec.Mint,
			rec.Account,
			formatUint(rec.Price),
			formatUint(rec.AmountIn),
			formatUint(rec.AmountOut),
			strconv.FormatBool(rec.Bootstrap),
			rec.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush csv: %w", err)
	}
	return nil
}

func writeParquet(w io.Writer, receipts []Receipt) error {
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(w), new(parquetReceipt), 1)
	if err != nil {
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, rec := range receipts {
		row := &parquetReceipt{
			ReceiptID: rec.ID,
			Operation: rec.Operation,
			Mint:      rec.Mint,
			Account:   rec.Account,
			Price:     formatUint(rec.Price),
			AmountIn:  formatUint(rec.AmountIn),
			AmountOut: formatUint(rec.AmountOut),
			Bootstrap: rec.Bootstrap,
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	return nil
}

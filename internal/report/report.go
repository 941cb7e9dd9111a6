// Package report 评测结果表格导出
//
// 把一次执行的逐条结果写成 xlsx：
//   - "results" 表：每条语料一行（执行顺序、问题、期望回答、意图、实际回答、得分、状态、错误、版本）
//   - "summary" 表：执行级汇总信息
//
// 同一份表格既用于 HTTP 导出，也在执行结束后归档到对象存储。
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"agent-eval/internal/shared/model"
	"agent-eval/internal/shared/objstore"
)

const (
	sheetResults = "results"
	sheetSummary = "summary"

	// ContentType xlsx MIME 类型
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var resultHeader = []interface{}{
	"execution_order", "content", "expected_response", "intent",
	"actual_response", "score", "status", "error", "version",
}

// Row 结果表中的一行
type Row struct {
	ExecutionOrder   int
	Content          string
	ExpectedResponse string
	Intent           string
	ActualResponse   string
	Score            *float64
	Status           string
	Error            string
	Version          string
}

// Rows 将持久化结果与语料合并为表格行，保持结果的执行顺序
func Rows(results []*model.CorpusResult, corpora []*model.Corpus) []Row {
	byID := make(map[string]*model.Corpus, len(corpora))
	for _, c := range corpora {
		byID[c.ID] = c
	}

	rows := make([]Row, 0, len(results))
	for _, r := range results {
		row := Row{
			ExecutionOrder: r.ExecutionOrder,
			ActualResponse: r.ActualResponse,
			Score:          r.Score,
			Status:         string(r.Status),
			Version:        r.Version,
		}
		if r.ErrorMsg != nil {
			row.Error = *r.ErrorMsg
		}
		if c, ok := byID[r.CorpusID]; ok {
			row.Content = c.Content
			row.ExpectedResponse = c.Expected()
			row.Intent = c.IntentLabel()
		}
		rows = append(rows, row)
	}
	return rows
}

// Write 生成结果表格并写入 w
func Write(w io.Writer, run *model.EvaluationRun, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetResults); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheetResults)
	if err != nil {
		return fmt.Errorf("create stream writer: %w", err)
	}
	if err := sw.SetRow("A1", resultHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		var score interface{}
		if row.Score != nil {
			score = *row.Score
		}
		values := []interface{}{
			row.ExecutionOrder, row.Content, row.ExpectedResponse, row.Intent,
			row.ActualResponse, score, row.Status, row.Error, row.Version,
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}

	if err := writeSummary(f, run, rows); err != nil {
		return err
	}

	return f.Write(w)
}

func writeSummary(f *excelize.File, run *model.EvaluationRun, rows []Row) error {
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	success := 0
	for _, r := range rows {
		if r.Status == string(model.CorpusResultSuccess) {
			success++
		}
	}

	pairs := [][]interface{}{
		{"run_id", run.ID},
		{"run_name", run.RunName},
		{"evaluation_set_id", run.EvaluationSetID},
		{"evaluation_set_name", run.EvaluationSetName},
		{"status", string(run.Status)},
		{"version", run.Version},
		{"start_time", run.StartTime.Format("2006-01-02 15:04:05")},
		{"results", len(rows)},
		{"success_count", success},
		{"failed_count", len(rows) - success},
	}
	if run.EndTime != nil {
		pairs = append(pairs, []interface{}{"end_time", run.EndTime.Format("2006-01-02 15:04:05")})
	}
	if run.Duration != nil {
		pairs = append(pairs, []interface{}{"duration_seconds", *run.Duration})
	}

	for i, p := range pairs {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		row := p
		if err := f.SetSheetRow(sheetSummary, cell, &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}

// ============================================================================
// 对象存储归档
// ============================================================================

// Archiver 将结果表格上传到对象存储
type Archiver struct {
	objects *objstore.Client
}

// NewArchiver 创建归档器
func NewArchiver(objects *objstore.Client) *Archiver {
	return &Archiver{objects: objects}
}

// Archive 上传到 runs/{run_id}/results.xlsx
func (a *Archiver) Archive(ctx context.Context, run *model.EvaluationRun, rows []Row) error {
	var buf bytes.Buffer
	if err := Write(&buf, run, rows); err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	key := objstore.RunArchiveKey(run.ID)
	if err := a.objects.Upload(ctx, key, &buf, int64(buf.Len()), ContentType); err != nil {
		return err
	}
	return nil
}

// Open 读取已归档的结果表格，调用方负责关闭
func (a *Archiver) Open(ctx context.Context, runID string) (io.ReadCloser, error) {
	return a.objects.Download(ctx, objstore.RunArchiveKey(runID))
}

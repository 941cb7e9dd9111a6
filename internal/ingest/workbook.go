package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Row 一行语料数据
type Row struct {
	Content          string
	ExpectedResponse *string
	Intent           *string
}

// Workbook 已打开的表格，按行惰性读取第一个工作表
type Workbook struct {
	f      *excelize.File
	rows   *excelize.Rows
	header []string
}

// OpenWorkbook 打开表格并读取表头
//
// 表头行缺失（空表）或文件无法解析时返回 ValidationError。
func OpenWorkbook(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ValidationError{Field: "excel_file", Message: fmt.Sprintf("无法解析 Excel 文件: %v", err)}
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, &ValidationError{Field: "excel_file", Message: "Excel 文件没有工作表"}
	}

	rows, err := f.Rows(sheets[f.GetActiveSheetIndex()])
	if err != nil {
		f.Close()
		return nil, &ValidationError{Field: "excel_file", Message: fmt.Sprintf("读取工作表失败: %v", err)}
	}

	wb := &Workbook{f: f, rows: rows}
	if !rows.Next() {
		wb.Close()
		return nil, &ValidationError{Field: "excel_file", Message: "Excel 文件格式不正确，至少需要一列数据"}
	}
	header, err := rows.Columns()
	if err != nil || len(header) == 0 {
		wb.Close()
		return nil, &ValidationError{Field: "excel_file", Message: "Excel 文件格式不正确，至少需要一列数据"}
	}
	wb.header = header
	return wb, nil
}

// Header 表头
func (w *Workbook) Header() []string {
	return w.header
}

// Each 依次回调每个数据行（第 2 行起），内容为空的行跳过
func (w *Workbook) Each(fn func(row Row) error) error {
	for w.rows.Next() {
		cols, err := w.rows.Columns()
		if err != nil {
			return fmt.Errorf("read row: %w", err)
		}
		row, ok := parseRow(cols)
		if !ok {
			continue
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return w.rows.Error()
}

// Close 释放表格资源
func (w *Workbook) Close() error {
	if w.rows != nil {
		w.rows.Close()
	}
	return w.f.Close()
}

// parseRow 列 0 为内容，列 1 为期望回答，列 2 为意图
func parseRow(cols []string) (Row, bool) {
	if len(cols) == 0 || strings.TrimSpace(cols[0]) == "" {
		return Row{}, false
	}
	row := Row{Content: cols[0]}
	if len(cols) > 1 && cols[1] != "" {
		v := cols[1]
		row.ExpectedResponse = &v
	}
	if len(cols) > 2 && cols[2] != "" {
		v := cols[2]
		row.Intent = &v
	}
	return row, true
}

package shogi

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

type MoveRow struct {
	Ply      int32  `parquet:"name=ply, type=INT32"`
	USI      string `parquet:"name=usi, type=BYTE_ARRAY, convertedtype=UTF8"`
	Captured string `parquet:"name=captured, type=BYTE_ARRAY, convertedtype=UTF8"`
	Promoted bool   `parquet:"name=promoted, type=BOOLEAN"`
	Check    bool   `parquet:"name=check, type=BOOLEAN"`
}

// GameRecord is one finished game as stored in parquet.
type GameRecord struct {
	GameID    string    `parquet:"name=game_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Black     string    `parquet:"name=black, type=BYTE_ARRAY, convertedtype=UTF8"`
	White     string    `parquet:"name=white, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartSFEN string    `parquet:"name=start_sfen, type=BYTE_ARRAY, convertedtype=UTF8"`
	Result    string    `parquet:"name=result, type=BYTE_ARRAY, convertedtype=UTF8"`
	Reason    string    `parquet:"name=reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	MoveCount int32     `parquet:"name=move_count, type=INT32"`
	Moves     []MoveRow `parquet:"name=moves, type=LIST"`
}

const (
	ResultBlackWin = "black_win"
	ResultWhiteWin = "white_win"
	ResultDraw     = "draw"
	ResultUnknown  = "unknown"
)

// ResultLabel maps an outcome onto the result column.
func ResultLabel(o Outcome) string {
	switch o.Status {
	case Win:
		if o.Winner == Black {
			return ResultBlackWin
		}
		return ResultWhiteWin
	case Draw:
		return ResultDraw
	default:
		return ResultUnknown
	}
}

// NewGameRecord builds a row from a played game. The records are replayed
// from start to fill in the check column.
func NewGameRecord(id uuid.UUID, black, white string, start GameState, records []MoveRecord, outcome Outcome) (GameRecord, error) {
	rules := Rules{}
	exec := NewExecutor()
	state := start
	rows := make([]MoveRow, 0, len(records))
	for _, rec := range records {
		plan, err := exec.Plan(&state, rec.Action())
		if err != nil {
			return GameRecord{}, fmt.Errorf("ply %d: %w", rec.Number, err)
		}
		if _, err := exec.Commit(&state, plan, rec.Promoted); err != nil {
			return GameRecord{}, fmt.Errorf("ply %d: %w", rec.Number, err)
		}
		row := MoveRow{
			Ply:      int32(rec.Number),
			USI:      rec.Action().USI(),
			Promoted: rec.Promoted,
			Check:    rules.IsInCheck(&state, state.Turn),
		}
		if rec.Captured != NoKind {
			row.Captured = rec.Captured.String()
		}
		rows = append(rows, row)
	}
	return GameRecord{
		GameID:    id.String(),
		Black:     black,
		White:     white,
		StartSFEN: start.SFEN(),
		Result:    ResultLabel(outcome),
		Reason:    outcome.Reason.String(),
		MoveCount: int32(len(records)),
		Moves:     rows,
	}, nil
}

type ParquetSchema struct {
	Name   string         `json:"name"`
	Fields []ParquetField `json:"fields"`
}

type ParquetField struct {
	Name     string      `json:"name"`
	Type     interface{} `json:"type"`
	Nullable bool        `json:"nullable"`
}

//go:embed schema/game_record.json
var gameRecordSchema []byte

// WriteParquet drains records into a snappy-compressed parquet file.
func WriteParquet(path string, records <-chan GameRecord, parallel int64) error {
	log.Info().Str("path", path).Msg("writing parquet")

	var schema ParquetSchema
	if err := json.Unmarshal(gameRecordSchema, &schema); err != nil {
		return err
	}
	if err := validateSchema(schema, GameRecord{}); err != nil {
		return err
	}

	fileWriter, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	defer fileWriter.Close()

	parquetWriter, err := writer.NewParquetWriter(fileWriter, new(GameRecord), parallel)
	if err != nil {
		return err
	}
	parquetWriter.CompressionType = parquet.CompressionCodec_SNAPPY

	for record := range records {
		if err := parquetWriter.Write(record); err != nil {
			return err
		}
	}
	if err := parquetWriter.WriteStop(); err != nil {
		return err
	}
	return fileWriter.Close()
}

// ReadParquet loads every record of a file written by WriteParquet.
func ReadParquet(path string, parallel int64) ([]GameRecord, error) {
	absPath := path
	if !filepath.IsAbs(path) {
		if resolved, err := filepath.Abs(path); err == nil {
			absPath = resolved
		}
	}
	fileReader, err := local.NewLocalFileReader(absPath)
	if err != nil {
		return nil, err
	}
	defer fileReader.Close()

	parquetReader, err := reader.NewParquetReader(fileReader, new(GameRecord), parallel)
	if err != nil {
		return nil, err
	}
	defer parquetReader.ReadStop()

	num := int(parquetReader.GetNumRows())
	records := make([]GameRecord, 0, num)
	batchSize := 1024
	for offset := 0; offset < num; offset += batchSize {
		if remain := num - offset; remain < batchSize {
			batchSize = remain
		}
		batch := make([]GameRecord, batchSize)
		if err := parquetReader.Read(&batch); err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}
	return records, nil
}

func validateSchema(schema ParquetSchema, sample any) error {
	schemaFields := make(map[string]struct{}, len(schema.Fields))
	for _, field := range schema.Fields {
		schemaFields[field.Name] = struct{}{}
	}
	structFields := structParquetFieldNames(sample)
	missing := diffKeys(schemaFields, structFields)
	extra := diffKeys(structFields, schemaFields)
	if len(missing) > 0 || len(extra) > 0 {
		return fmt.Errorf("parquet schema mismatch: missing=%v extra=%v", missing, extra)
	}
	return nil
}

func structParquetFieldNames(sample any) map[string]struct{} {
	fields := map[string]struct{}{}
	v := reflect.TypeOf(sample)
	for i := 0; i < v.NumField(); i++ {
		if name := parseParquetName(v.Field(i).Tag.Get("parquet")); name != "" {
			fields[name] = struct{}{}
		}
	}
	return fields
}

func parseParquetName(tag string) string {
	for _, part := range strings.Split(tag, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] == "name" {
			return kv[1]
		}
	}
	return ""
}

func diffKeys(a, b map[string]struct{}) []string {
	var diff []string
	for key := range a {
		if _, ok := b[key]; !ok {
			diff = append(diff, key)
		}
	}
	return diff
}

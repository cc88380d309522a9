package labreport

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labinsight/labinsight/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const reportCols = `id, user_id, document_id, file_name, content_type, status,
	patient_name, patient_age, patient_gender,
	health_score, suggested_health_score, overall_status, summary,
	attention_areas, text_source, degraded, created_at`

const resultCols = `test_name, observed_value, unit, reference_min, reference_max,
	status, severity, explanation, alert_message`

func (r *reportRepoPG) scanReport(row pgx.Row) (*Report, error) {
	var rep Report
	var userID, name, gender *string
	var age *int
	var overall, source string
	var degraded []string
	err := row.Scan(&rep.ID, &userID, &rep.DocumentID, &rep.FileName, &rep.ContentType, &rep.Status,
		&name, &age, &gender,
		&rep.Result.HealthScore, &rep.Result.SuggestedHealthScore, &overall, &rep.Result.Summary,
		&rep.Result.AttentionAreas, &source, &degraded, &rep.CreatedAt)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		rep.UserID = *userID
	}
	if name != nil || age != nil || gender != nil {
		rep.Result.PatientInfo = &PatientInfo{Name: name, Age: age, Gender: gender}
	}
	rep.Result.OverallStatus = OverallStatus(overall)
	rep.Result.TextSource = TextSource(source)
	for _, d := range degraded {
		rep.Result.Degraded = append(rep.Result.Degraded, Degradation(d))
	}
	rep.Persisted = true
	return &rep, nil
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		res := rep.Result
		var name, gender *string
		var age *int
		if res.PatientInfo != nil {
			name, age, gender = res.PatientInfo.Name, res.PatientInfo.Age, res.PatientInfo.Gender
		}
		degraded := make([]string, len(res.Degraded))
		for i, d := range res.Degraded {
			degraded[i] = string(d)
		}
		areas := res.AttentionAreas
		if areas == nil {
			areas = []string{}
		}
		var userID *string
		if rep.UserID != "" {
			userID = &rep.UserID
		}

		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO reports (`+reportCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			rep.ID, userID, rep.DocumentID, rep.FileName, rep.ContentType, rep.Status,
			name, age, gender,
			res.HealthScore, res.SuggestedHealthScore, string(res.OverallStatus), res.Summary,
			areas, string(res.TextSource), degraded, rep.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert report: %w", err)
		}

		batch := &pgx.Batch{}
		for i, o := range res.Observations {
			var refMin, refMax *float64
			if o.ReferenceRange != nil {
				refMin, refMax = o.ReferenceRange.Min, o.ReferenceRange.Max
			}
			batch.Queue(`
				INSERT INTO test_results (report_id, position, `+resultCols+`)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
				rep.ID, i, o.TestName, o.ObservedValue, o.Unit, refMin, refMax,
				string(o.Status), string(o.Severity), o.Explanation, o.AlertMessage)
		}
		if batch.Len() == 0 {
			return nil
		}
		tx := db.TxFromContext(ctx)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert test results: %w", err)
		}
		return nil
	})
}

func (r *reportRepoPG) loadResults(ctx context.Context, rep *Report) error {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+resultCols+` FROM test_results WHERE report_id = $1 ORDER BY position`, rep.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	obs := []EnrichedObservation{}
	for rows.Next() {
		var o EnrichedObservation
		var refMin, refMax *float64
		var status, severity string
		if err := rows.Scan(&o.TestName, &o.ObservedValue, &o.Unit, &refMin, &refMax,
			&status, &severity, &o.Explanation, &o.AlertMessage); err != nil {
			return err
		}
		if refMin != nil || refMax != nil {
			o.ReferenceRange = &ReferenceRange{Min: refMin, Max: refMax}
		}
		o.Status = Status(status)
		o.Severity = Severity(severity)
		obs = append(obs, o)
	}
	rep.Result.Observations = obs
	return rows.Err()
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	rep, err := r.scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM reports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadResults(ctx, rep); err != nil {
		return nil, fmt.Errorf("load test results: %w", err)
	}
	return rep, nil
}

// listWhere renders f as a WHERE clause and its arguments. A NULL $1 matches
// every row so the statements stay static.
func listWhere(f ReportFilter) (string, []interface{}) {
	var userID *string
	if f.UserID != "" {
		userID = &f.UserID
	}
	return ` WHERE ($1::text IS NULL OR user_id = $1)`, []interface{}{userID}
}

func (r *reportRepoPG) List(ctx context.Context, f ReportFilter, limit, offset int) ([]*Report, int, error) {
	where, args := listWhere(f)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reports`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reportCols+` FROM reports`+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	var items []*Report
	for rows.Next() {
		rep, err := r.scanReport(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, rep)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for _, rep := range items {
		if err := r.loadResults(ctx, rep); err != nil {
			return nil, 0, fmt.Errorf("load test results: %w", err)
		}
	}
	return items, total, nil
}

func (r *reportRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReportNotFound
	}
	return nil
}

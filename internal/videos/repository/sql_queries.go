package repository

const (
	createVideoQuery = `INSERT INTO video_records (video_id, owner_id, file_name, source_object_key, size_bytes, status, progress)
					VALUES ($1, $2, $3, $4, $5, $6, 0)
					RETURNING video_id, owner_id, file_name, source_object_key, size_bytes, status, progress,
						result_manifest, error_message, created_at, processing_started_at, processing_completed_at`

	getVideoByIDQuery = `SELECT video_id, owner_id, file_name, source_object_key, size_bytes, status, progress,
						result_manifest, error_message, created_at, processing_started_at, processing_completed_at
					FROM video_records WHERE video_id = $1`

	getVideosByOwnerQuery = `SELECT video_id, owner_id, file_name, source_object_key, size_bytes, status, progress,
						result_manifest, error_message, created_at, processing_started_at, processing_completed_at
					FROM video_records WHERE owner_id = $1 ORDER BY created_at DESC OFFSET $2 LIMIT $3`

	getTotalVideosByOwnerQuery = `SELECT COUNT(video_id) FROM video_records WHERE owner_id = $1`

	// Status writes carry the expected current status so a stale writer can
	// never move a record backwards or resurrect a terminal one.
	updateStatusQuery = `UPDATE video_records
					SET status = $2,
					    progress = GREATEST(progress, $3),
					    result_manifest = COALESCE($4, result_manifest),
					    error_message = $5,
					    processing_completed_at = $6
					WHERE video_id = $1 AND status = $7
					RETURNING video_id, owner_id, file_name, source_object_key, size_bytes, status, progress,
						result_manifest, error_message, created_at, processing_started_at, processing_completed_at`

	markProcessingStartedQuery = `UPDATE video_records
					SET processing_started_at = NOW()
					WHERE video_id = $1 AND processing_started_at IS NULL`

	deleteVideoQuery = `DELETE FROM video_records WHERE video_id = $1 AND owner_id = $2`

	resetForReprocessQuery = `UPDATE video_records
					SET status = $2, error_message = '', processing_completed_at = NULL
					WHERE video_id = $1 AND status = $3
					RETURNING video_id, owner_id, file_name, source_object_key, size_bytes, status, progress,
						result_manifest, error_message, created_at, processing_started_at, processing_completed_at`
)

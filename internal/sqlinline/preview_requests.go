package sqlinline

const QInsertPreviewRequest = `--sql 2c62448f-2753-40a4-8aa6-0cb20031d840
insert into preview_requests(
  request_id,
  cache_key,
  user_id,
  style_id,
  aspect_ratio,
  quality,
  watermarked,
  provider_job_id,
  status,
  error_kind,
  error_message,
  created_at,
  updated_at
) values (
  $1::uuid,
  $2::text,
  nullif($3::text, ''),
  $4::text,
  $5::text,
  $6::text,
  $7::boolean,
  nullif($8::text, ''),
  $9::text,
  '',
  '',
  $10::timestamptz,
  $10::timestamptz
);
`

const previewRequestColumns = `
  request_id::text,
  cache_key,
  coalesce(user_id, ''),
  style_id,
  aspect_ratio,
  quality,
  watermarked,
  coalesce(provider_job_id, ''),
  status,
  error_kind,
  error_message,
  created_at,
  updated_at
`

const QSelectPreviewRequest = `--sql 4b40f886-db1b-435c-8a93-acd6680a976d
select` + previewRequestColumns + `from preview_requests
where request_id = $1::uuid
limit 1;
`

const QSelectPendingPreviewRequest = `--sql 04a36756-c0e0-4add-9404-4cd6820fab7b
select` + previewRequestColumns + `from preview_requests
where cache_key = $1::text
  and status in ('starting', 'processing')
order by created_at desc
limit 1;
`

const QAttachProviderJob = `--sql ccb1c989-983c-4bd5-ae41-958dba684980
update preview_requests
set provider_job_id = $2::text,
    status = $3::text,
    updated_at = now()
where request_id = $1::uuid
  and status in ('starting', 'processing');
`

// QCompletePreviewRequest only moves non-terminal rows so a redelivered
// webhook affects zero rows.
const QCompletePreviewRequest = `--sql c6247f08-1608-4122-90bc-d300c04128cd
update preview_requests
set status = $2::text,
    error_kind = $3::text,
    error_message = $4::text,
    updated_at = now()
where request_id = $1::uuid
  and status in ('starting', 'processing');
`

const QExpireStalePreviewRequests = `--sql 19e29323-0a68-46d5-b8f4-9b2655ecdd80
update preview_requests
set status = 'failed',
    error_kind = 'timeout',
    error_message = 'no provider callback received',
    updated_at = now()
where status in ('starting', 'processing')
  and updated_at < $1::timestamptz;
`

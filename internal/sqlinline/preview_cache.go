package sqlinline

const QSelectCacheEntry = `--sql 3d681be4-7df3-44f2-b929-95ea64b252ae
select
  cache_key,
  bucket,
  path,
  width,
  height,
  bytes,
  content_type,
  hit_count,
  created_at,
  last_accessed_at,
  expires_at
from preview_cache
where cache_key = $1::text
limit 1;
`

// QUpsertCacheEntry overwrites the object location on regeneration but never
// lowers the hit counter.
const QUpsertCacheEntry = `--sql 2b4fcf47-53f2-4e2e-ae97-1b82aa8b12de
insert into preview_cache(
  cache_key,
  bucket,
  path,
  width,
  height,
  bytes,
  content_type,
  hit_count,
  created_at,
  last_accessed_at,
  expires_at
) values (
  $1::text,
  $2::text,
  $3::text,
  $4::int,
  $5::int,
  $6::bigint,
  $7::text,
  $8::bigint,
  $9::timestamptz,
  $9::timestamptz,
  $10::timestamptz
)
on conflict (cache_key) do update set
  bucket = excluded.bucket,
  path = excluded.path,
  width = excluded.width,
  height = excluded.height,
  bytes = excluded.bytes,
  content_type = excluded.content_type,
  hit_count = greatest(preview_cache.hit_count, excluded.hit_count),
  created_at = excluded.created_at,
  last_accessed_at = excluded.last_accessed_at,
  expires_at = excluded.expires_at;
`

const QTouchCacheEntry = `--sql a883da61-8952-42d6-9ba0-6aceb0f1b4b0
update preview_cache
set hit_count = hit_count + 1,
    last_accessed_at = $2::timestamptz
where cache_key = $1::text;
`

const QDeleteExpiredCacheEntries = `--sql bf644763-7b3a-419d-9abf-0f7f9c0542bd
delete from preview_cache
where expires_at is not null
  and expires_at < $1::timestamptz
returning cache_key, bucket, path;
`

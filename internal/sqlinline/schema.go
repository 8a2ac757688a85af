package sqlinline

// QSchema is applied by cmd/migrate. Every statement is idempotent.
const QSchema = `--sql e0c1c357-d0a7-438f-a9d5-18882f1854d8
create extension if not exists pgcrypto;

create table if not exists users (
  id uuid primary key default gen_random_uuid(),
  email text unique,
  plan text not null default 'free',
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);

create table if not exists integration_tokens (
  id uuid primary key default gen_random_uuid(),
  provider text not null unique,
  token text not null,
  properties jsonb not null default '{}'::jsonb,
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);

create table if not exists preview_cache (
  cache_key text primary key,
  bucket text not null,
  path text not null,
  width int not null default 0,
  height int not null default 0,
  bytes bigint not null default 0,
  content_type text not null default 'image/jpeg',
  hit_count bigint not null default 0,
  created_at timestamptz not null default now(),
  last_accessed_at timestamptz not null default now(),
  expires_at timestamptz
);

create index if not exists preview_cache_expires_at_idx on preview_cache (expires_at);

create table if not exists preview_requests (
  request_id uuid primary key,
  cache_key text not null,
  user_id text,
  style_id text not null,
  aspect_ratio text not null,
  quality text not null,
  watermarked boolean not null default true,
  provider_job_id text,
  status text not null,
  error_kind text not null default '',
  error_message text not null default '',
  created_at timestamptz not null default now(),
  updated_at timestamptz not null default now()
);

create index if not exists preview_requests_pending_idx
  on preview_requests (cache_key, created_at desc)
  where status in ('starting', 'processing');
`

package sqlinline

const QCreateJobsSchema = `--sql 0b9c2f61-7d4e-4c1a-9a55-2f1e8d7b3c40
create table if not exists jobs (
    job_id           uuid primary key,
    filename         text not null,
    object_key       text not null unique,
    bucket           text not null default '',
    status           text not null check (status in ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED')),
    progress_percent int not null default 0 check (progress_percent between 0 and 100),
    result           jsonb,
    error            jsonb,
    created_at       timestamptz not null,
    updated_at       timestamptz not null,
    heartbeat_at     timestamptz,
    version          bigint not null default 1
);
create index if not exists jobs_status_updated_idx on jobs (status, updated_at);
`

const QInsertJob = `--sql 6a1d8e02-3b7f-4f59-8c21-9e4a0b5d7f13
insert into jobs (
    job_id, filename, object_key, bucket, status, progress_percent,
    result, error, created_at, updated_at, heartbeat_at, version
)
values ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`

const QSelectJob = `--sql c3e57a19-0f2b-4d86-b1a4-7d9e2c6f8a05
select job_id::text, filename, object_key, bucket, status, progress_percent,
       result, error, created_at, updated_at, heartbeat_at, version
from jobs
where job_id = $1::uuid;
`

const QUpdateJobFenced = `--sql 9d2b4f7e-6c13-4a08-95e1-3f8c0a7b2d64
update jobs
set status = $3,
    progress_percent = $4,
    result = $5,
    error = $6,
    updated_at = $7,
    heartbeat_at = $8,
    version = $9
where job_id = $1::uuid
  and version = $2;
`

const QSelectStaleJobs = `--sql 1f7a3c58-b2e9-4d0f-8a6c-5e4b9d2a7c31
select job_id::text, filename, object_key, bucket, status, progress_percent,
       result, error, created_at, updated_at, heartbeat_at, version
from jobs
where status = $1
  and greatest(coalesce(heartbeat_at, updated_at), updated_at) < $2
order by updated_at asc
limit $3;
`

package logbook

// server-shaped records for the logbook kerja sama backend.
// the cache never looks inside these; they are opaque payloads addressed
// by query key.

type Status struct {
	Id   int    `json:"id"`
	Nama string `json:"nama"`
}

type Unit struct {
	Id   int    `json:"id"`
	Nama string `json:"nama"`
}

type Mitra struct {
	Id      int    `json:"id"`
	Nama    string `json:"nama"`
	Negara  string `json:"negara"`
	Alamat  string `json:"alamat"`
	Telepon string `json:"telepon"`
	Email   string `json:"email"`
}

type Dokumen struct {
	Id              int    `json:"id"`
	Nomor           string `json:"nomor"`
	Judul           string `json:"judul"`
	MitraId         int    `json:"mitra_id"`
	StatusId        int    `json:"status_id"`
	UnitId          int    `json:"unit_id"`
	TanggalMulai    string `json:"tanggal_mulai"`
	TanggalBerakhir string `json:"tanggal_berakhir"`
	Keterangan      string `json:"keterangan"`
}

type LogEntry struct {
	Id         int    `json:"id"`
	DokumenId  int    `json:"dokumen_id"`
	Tanggal    string `json:"tanggal"`
	Kegiatan   string `json:"kegiatan"`
	Keterangan string `json:"keterangan"`
}

type UserAccount struct {
	Id    int    `json:"id"`
	Nama  string `json:"nama"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// every endpoint wraps its payload in this envelope
type apiEnvelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

type PageLink struct {
	Url    *string `json:"url"`
	Label  string  `json:"label"`
	Active bool    `json:"active"`
}

// collection payloads nest the items under `data` again, next to the
// pagination bookkeeping
type Page[T any] struct {
	Items       []T        `json:"data"`
	CurrentPage int        `json:"current_page"`
	From        int        `json:"from"`
	To          int        `json:"to"`
	Total       int        `json:"total"`
	LastPage    int        `json:"last_page"`
	Links       []PageLink `json:"links"`
}

type AuthLoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	Token string      `json:"token"`
	User  UserAccount `json:"user"`
}

type StatusArgs struct {
	Nama string `json:"nama"`
}

type UnitArgs struct {
	Nama string `json:"nama"`
}

type MitraArgs struct {
	Nama    string `json:"nama"`
	Negara  string `json:"negara"`
	Alamat  string `json:"alamat"`
	Telepon string `json:"telepon"`
	Email   string `json:"email"`
}

type DokumenArgs struct {
	Nomor           string `json:"nomor"`
	Judul           string `json:"judul"`
	MitraId         int    `json:"mitra_id"`
	StatusId        int    `json:"status_id"`
	UnitId          int    `json:"unit_id"`
	TanggalMulai    string `json:"tanggal_mulai"`
	TanggalBerakhir string `json:"tanggal_berakhir"`
	Keterangan      string `json:"keterangan"`
}

type LogEntryArgs struct {
	DokumenId  int    `json:"dokumen_id"`
	Tanggal    string `json:"tanggal"`
	Kegiatan   string `json:"kegiatan"`
	Keterangan string `json:"keterangan"`
}

type UserRoleArgs struct {
	Role string `json:"role"`
}

package store

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		phone TEXT DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'farmer',
		language TEXT DEFAULT 'en',
		state TEXT DEFAULT '',
		district TEXT DEFAULT '',
		crops TEXT DEFAULT '[]',
		specializations TEXT DEFAULT '[]',
		languages TEXT DEFAULT '[]',
		rating REAL DEFAULT 0,
		rating_count INTEGER DEFAULT 0,
		available BOOLEAN DEFAULT 1,
		max_active INTEGER DEFAULT 5,
		created_at DATETIME NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS consultations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		farmer_id INTEGER NOT NULL REFERENCES users(id),
		expert_id INTEGER REFERENCES users(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL,
		crop_type TEXT DEFAULT '',
		urgency TEXT NOT NULL,
		language TEXT DEFAULT 'en',
		state TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		diagnosis_condition TEXT,
		diagnosis_severity TEXT,
		diagnosis_confidence REAL,
		diagnosis_notes TEXT,
		diagnosed_by INTEGER,
		diagnosed_at DATETIME,
		rating INTEGER DEFAULT 0,
		feedback TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		assigned_at DATETIME,
		resolved_at DATETIME
	);`,
	`CREATE INDEX IF NOT EXISTS idx_consultations_farmer ON consultations(farmer_id);`,
	`CREATE INDEX IF NOT EXISTS idx_consultations_expert_status ON consultations(expert_id, status);`,

	`CREATE TABLE IF NOT EXISTS consultation_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		consultation_id INTEGER NOT NULL REFERENCES consultations(id) ON DELETE CASCADE,
		sender_id INTEGER NOT NULL,
		sender_role TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS consultation_recommendations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		consultation_id INTEGER NOT NULL REFERENCES consultations(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		details TEXT DEFAULT '',
		dosage TEXT DEFAULT '',
		priority INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS forum_posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		author_id INTEGER NOT NULL REFERENCES users(id),
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		category TEXT NOT NULL,
		tags TEXT DEFAULT '[]',
		likes INTEGER DEFAULT 0,
		reply_count INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS forum_replies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id INTEGER NOT NULL REFERENCES forum_posts(id) ON DELETE CASCADE,
		author_id INTEGER NOT NULL REFERENCES users(id),
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS forum_likes (
		post_id INTEGER NOT NULL REFERENCES forum_posts(id) ON DELETE CASCADE,
		user_id INTEGER NOT NULL,
		PRIMARY KEY (post_id, user_id)
	);`,

	`CREATE TABLE IF NOT EXISTS listings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seller_id INTEGER NOT NULL REFERENCES users(id),
		crop TEXT NOT NULL,
		variety TEXT DEFAULT '',
		quantity REAL NOT NULL,
		unit TEXT NOT NULL,
		price_per_unit INTEGER NOT NULL,
		state TEXT NOT NULL,
		district TEXT DEFAULT '',
		mandi TEXT DEFAULT '',
		description TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		reference TEXT NOT NULL UNIQUE,
		listing_id INTEGER NOT NULL REFERENCES listings(id),
		buyer_id INTEGER NOT NULL REFERENCES users(id),
		seller_id INTEGER NOT NULL,
		quantity REAL NOT NULL,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		payment_ref TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		paid_at DATETIME
	);`,

	`CREATE TABLE IF NOT EXISTS market_prices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		commodity TEXT NOT NULL,
		variety TEXT DEFAULT '',
		mandi TEXT NOT NULL,
		state TEXT DEFAULT '',
		date DATETIME NOT NULL,
		min_price REAL NOT NULL,
		max_price REAL NOT NULL,
		modal_price REAL NOT NULL,
		reported_by INTEGER,
		UNIQUE (commodity, variety, mandi, date)
	);`,

	`CREATE TABLE IF NOT EXISTS schemes (
		slug TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		ministry TEXT DEFAULT '',
		category TEXT NOT NULL,
		states TEXT DEFAULT '[]',
		benefits TEXT DEFAULT '',
		eligibility TEXT DEFAULT '',
		how_to_apply TEXT DEFAULT '',
		url TEXT DEFAULT '',
		deadline DATETIME,
		updated_at DATETIME NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS crops (
		name TEXT PRIMARY KEY,
		local_name TEXT DEFAULT '',
		seasons TEXT DEFAULT '[]',
		soils TEXT DEFAULT '[]',
		min_temp REAL,
		max_temp REAL,
		min_rain REAL,
		max_rain REAL,
		water_need TEXT,
		duration_days INTEGER
	);`,

	`CREATE TABLE IF NOT EXISTS weather_alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		crop TEXT NOT NULL,
		hazard TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		advice TEXT DEFAULT '',
		location TEXT DEFAULT '',
		acknowledged BOOLEAN DEFAULT 0,
		created_at DATETIME NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS activity_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_id INTEGER,
		entity TEXT NOT NULL,
		entity_id INTEGER,
		action TEXT NOT NULL,
		message TEXT DEFAULT '',
		created_at DATETIME NOT NULL
	);`,
}

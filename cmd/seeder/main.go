// Command seeder populates the stats_weapon reference table. It is
// idempotent and must be run once before the server starts, and again
// whenever the game adds weapons.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/dylantcon/countertrak/internal/config"
)

type weapon struct {
	ID      int
	Name    string
	Type    string // empty means unclassified
	MaxClip int    // 0 means no magazine
}

var weapons = []weapon{
	{1, "weapon_knife", "Knife", 0},
	{2, "weapon_knife_t", "Knife", 0},
	{3, "weapon_glock", "Pistol", 20},
	{4, "weapon_hkp2000", "Pistol", 13},
	{5, "weapon_usp_silencer", "Pistol", 12},
	{6, "weapon_elite", "Pistol", 30},
	{7, "weapon_p250", "Pistol", 13},
	{8, "weapon_tec9", "Pistol", 18},
	{9, "weapon_fiveseven", "Pistol", 20},
	{10, "weapon_deagle", "Pistol", 7},
	{11, "weapon_revolver", "Pistol", 8},
	{12, "weapon_cz75a", "Pistol", 12},
	{13, "weapon_mag7", "Shotgun", 5},
	{14, "weapon_sawedoff", "Shotgun", 7},
	{15, "weapon_nova", "Shotgun", 8},
	{16, "weapon_xm1014", "Shotgun", 7},
	{17, "weapon_mp9", "Submachine Gun", 30},
	{18, "weapon_mac10", "Submachine Gun", 30},
	{19, "weapon_bizon", "Submachine Gun", 64},
	{20, "weapon_mp7", "Submachine Gun", 30},
	{21, "weapon_ump45", "Submachine Gun", 25},
	{22, "weapon_p90", "Submachine Gun", 50},
	{23, "weapon_mp5sd", "Submachine Gun", 30},
	{24, "weapon_famas", "Rifle", 25},
	{25, "weapon_galilar", "Rifle", 35},
	{26, "weapon_m4a1", "Rifle", 30},
	{27, "weapon_m4a1_silencer", "Rifle", 20},
	{28, "weapon_ak47", "Rifle", 30},
	{29, "weapon_aug", "Rifle", 30},
	{30, "weapon_sg556", "Rifle", 30},
	{31, "weapon_ssg08", "SniperRifle", 10},
	{32, "weapon_awp", "SniperRifle", 5},
	{33, "weapon_scar20", "SniperRifle", 20},
	{34, "weapon_g3sg1", "SniperRifle", 20},
	{35, "weapon_m249", "Machine Gun", 100},
	{36, "weapon_negev", "Machine Gun", 150},
	{37, "weapon_decoy", "Grenade", 1},
	{38, "weapon_flashbang", "Grenade", 1},
	{39, "weapon_smokegrenade", "Grenade", 1},
	{40, "weapon_hegrenade", "Grenade", 1},
	{41, "weapon_incgrenade", "Grenade", 1},
	{42, "weapon_molotov", "Grenade", 1},
	{43, "weapon_c4", "C4", 1},
	{44, "weapon_healthshot", "StackableItem", 1},
	{45, "weapon_taser", "", 1},
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, upsert, err := open(cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	seeded := 0
	for _, w := range weapons {
		if _, err := db.Exec(upsert, w.ID, w.Name, nullStr(w.Type), nullInt(w.MaxClip)); err != nil {
			log.Fatalf("seeding %s: %v", w.Name, err)
		}
		seeded++
	}

	fmt.Printf("seeded %d weapons into %s (%s)\n", seeded, cfg.DBName, cfg.DBEngine)
}

// open returns a connection and the engine-appropriate upsert statement.
func open(cfg *config.Config) (*sql.DB, string, error) {
	switch cfg.DBEngine {
	case "postgresql", "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, "", err
		}
		upsert := `
			INSERT INTO stats_weapon (weapon_id, name, type, max_clip)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (weapon_id) DO UPDATE
			SET name = EXCLUDED.name, type = EXCLUDED.type, max_clip = EXCLUDED.max_clip`
		return db, upsert, db.Ping()

	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, "", err
		}
		upsert := `
			INSERT INTO stats_weapon (weapon_id, name, type, max_clip)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name), type = VALUES(type), max_clip = VALUES(max_clip)`
		return db, upsert, db.Ping()

	default:
		fmt.Fprintf(os.Stderr, "unsupported DB_ENGINE %q\n", cfg.DBEngine)
		os.Exit(1)
		return nil, "", nil
	}
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}
